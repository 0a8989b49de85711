package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/drblury/eventflow/internal/runtime/envelope"
)

// PublishCmd implements the 'publish' command.
type PublishCmd struct {
	File         string        `short:"f" required:"" help:"Envelope JSON file" type:"existingfile"`
	DedupKey     string        `name:"dedup-key" help:"Deduplication key (defaults to type:aggregateId:causationId)"`
	TTL          time.Duration `help:"Time to live measured from the envelope timestamp"`
	Retries      int           `help:"Override the configured retry count (-1 keeps the configured value)" default:"-1"`
	PartitionKey string        `name:"partition-key" help:"Partition key (defaults to the aggregate id)"`
	Priority     string        `help:"LOW, MEDIUM or HIGH" default:"MEDIUM" enum:"LOW,MEDIUM,HIGH,low,medium,high"`
	Delay        time.Duration `help:"Delay before the first send attempt"`
}

func (p *PublishCmd) Run(global *Global, root *CLI) error {
	cfg, err := root.loadConfig()
	if err != nil {
		return err
	}
	env, err := readEnvelope(p.File, time.Now())
	if err != nil {
		return err
	}
	opts, err := p.options()
	if err != nil {
		return err
	}

	ctx := context.Background()
	svc, err := newService(ctx, global, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = svc.Close(ctx) }()

	res, err := svc.Publish(ctx, env, opts)
	if err != nil {
		return err
	}

	fmt.Fprintf(global.Out, "%s %s channel=%s attempts=%d\n", res.Kind, res.EventID, res.Channel, res.Attempts)
	if !res.Delivered() {
		return res.Error()
	}
	return nil
}

func (p *PublishCmd) options() (envelope.PublishOptions, error) {
	priority, err := envelope.ParsePriority(p.Priority)
	if err != nil {
		return envelope.PublishOptions{}, err
	}
	opts := envelope.PublishOptions{
		Priority:         priority,
		Delay:            p.Delay,
		TTL:              p.TTL,
		DeduplicationKey: p.DedupKey,
		PartitionKey:     p.PartitionKey,
	}
	if p.Retries >= 0 {
		opts.Retries = envelope.RetriesOf(p.Retries)
	}
	return opts, nil
}
