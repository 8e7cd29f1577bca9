package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/itchyny/gojq"
	natspkg "github.com/minersworld/tipledger/service/nats"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/urfave/cli/v2"
)

// subscribeCommand subscribes to deposit events, optionally for one user.
func subscribeCommand() *cli.Command {
	return &cli.Command{
		Name:      "subscribe",
		Usage:     "Subscribe to deposit events",
		ArgsUsage: "[user_id]",
		Description: `Subscribe to real-time deposit events published to NATS JetStream.

Events are published to the subject deposits.{user_id}. Without a user ID
the command streams all deposits. Filters are jq expressions evaluated
against each event; only events for which every filter returns a truthy
value are printed.

Example:
  tipledger nats subscribe 123456789 --filter '.confirmed'
  tipledger nats subscribe --filter '.amount | tonumber > 1'`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "nats-url",
				Usage:   "NATS server URL",
				EnvVars: []string{"NATS_URL"},
				Value:   "nats://localhost:4222",
			},
			&cli.StringSliceFlag{
				Name:    "filter",
				Aliases: []string{"f"},
				Usage:   "jq expression an event must satisfy (repeatable)",
			},
			&cli.BoolFlag{
				Name:    "durable",
				Aliases: []string{"d"},
				Usage:   "Create a durable consumer (survives restarts)",
			},
			&cli.StringFlag{
				Name:  "consumer-name",
				Usage: "Consumer name (required for durable)",
				Value: "tipledger-cli",
			},
		},
		Action: func(c *cli.Context) error {
			subject := "deposits.>"
			if c.NArg() == 1 {
				subject = fmt.Sprintf("deposits.%s", c.Args().First())
			}

			filters, err := compileFilters(c.StringSlice("filter"))
			if err != nil {
				return err
			}

			return streamDeposits(
				subject,
				c.String("nats-url"),
				c.Bool("durable"),
				c.String("consumer-name"),
				c.Bool("json"),
				filters,
			)
		},
	}
}

// compileFilters parses and compiles the jq filter expressions.
func compileFilters(exprs []string) ([]*gojq.Code, error) {
	codes := make([]*gojq.Code, len(exprs))
	for i, expr := range exprs {
		query, err := gojq.Parse(expr)
		if err != nil {
			return nil, fmt.Errorf("failed to parse jq filter %q: %w", expr, err)
		}
		codes[i], err = gojq.Compile(query)
		if err != nil {
			return nil, fmt.Errorf("failed to compile jq filter %q: %w", expr, err)
		}
	}
	return codes, nil
}

// matchesFilters evaluates every compiled filter against the event; all
// must yield a truthy first result.
func matchesFilters(filters []*gojq.Code, raw []byte) bool {
	if len(filters) == 0 {
		return true
	}

	var event interface{}
	if err := json.Unmarshal(raw, &event); err != nil {
		return false
	}

	for _, code := range filters {
		iter := code.Run(event)
		v, ok := iter.Next()
		if !ok {
			return false
		}
		if _, isErr := v.(error); isErr {
			return false
		}
		if !isTruthy(v) {
			return false
		}
	}
	return true
}

// isTruthy follows jq semantics: everything except false and null is true.
func isTruthy(v interface{}) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	default:
		return true
	}
}

// streamDeposits connects to NATS and streams deposit events.
func streamDeposits(subject, natsURL string, durable bool, consumerName string, jsonOutput bool, filters []*gojq.Code) error {
	// Connect to NATS
	nc, err := nats.Connect(natsURL)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}
	defer nc.Close()

	js, err := jetstream.New(nc)
	if err != nil {
		return fmt.Errorf("failed to create JetStream context: %w", err)
	}

	if !jsonOutput {
		fmt.Printf("Subscribing to: %s\n", subject)
		fmt.Printf("   NATS: %s\n", natsURL)
		if durable {
			fmt.Printf("   Consumer: %s (durable)\n", consumerName)
		}
		fmt.Printf("\nWaiting for deposits... (Ctrl-C to exit)\n\n")
	}

	consumerConfig := jetstream.ConsumerConfig{
		FilterSubject: subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
	}
	if durable {
		consumerConfig.Durable = consumerName
		consumerConfig.Name = consumerName
	}

	cons, err := js.CreateOrUpdateConsumer(context.Background(), natspkg.StreamName, consumerConfig)
	if err != nil {
		return fmt.Errorf("failed to create consumer: %w", err)
	}

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	msgChan := make(chan jetstream.Msg, 10)
	go func() {
		_, _ = cons.Consume(func(msg jetstream.Msg) {
			msgChan <- msg
		})
	}()

	count := 0
	for {
		select {
		case msg := <-msgChan:
			if !matchesFilters(filters, msg.Data()) {
				msg.Ack()
				continue
			}

			var event natspkg.DepositEvent
			if err := json.Unmarshal(msg.Data(), &event); err != nil {
				if !jsonOutput {
					fmt.Fprintf(os.Stderr, "Error parsing event: %v\n", err)
				}
				msg.Ack()
				continue
			}

			count++

			if jsonOutput {
				data, _ := json.Marshal(event)
				fmt.Println(string(data))
			} else {
				status := "unconfirmed"
				if event.Confirmed {
					status = "confirmed"
				}
				fmt.Printf("Deposit #%d\n", count)
				fmt.Printf("  User:      %d\n", event.UserID)
				fmt.Printf("  Address:   %s\n", event.Address)
				fmt.Printf("  Amount:    %s\n", event.Amount.String())
				fmt.Printf("  TxID:      %s\n", event.TxID)
				fmt.Printf("  Status:    %s\n", status)
				fmt.Printf("  Published: %s\n\n", event.PublishedAt.Format(time.RFC3339))
			}

			msg.Ack()

		case <-sigChan:
			if !jsonOutput {
				fmt.Printf("\nReceived %d deposits\n", count)
			}
			return nil
		}
	}
}

// inspectStreamCommand shows information about the deposit stream.
func inspectStreamCommand() *cli.Command {
	return &cli.Command{
		Name:  "inspect-stream",
		Usage: "Inspect the DEPOSITS JetStream stream",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "nats-url",
				Usage:   "NATS server URL",
				EnvVars: []string{"NATS_URL"},
				Value:   "nats://localhost:4222",
			},
		},
		Action: func(c *cli.Context) error {
			natsURL := c.String("nats-url")

			nc, err := nats.Connect(natsURL)
			if err != nil {
				return fmt.Errorf("failed to connect to NATS: %w", err)
			}
			defer nc.Close()

			js, err := jetstream.New(nc)
			if err != nil {
				return fmt.Errorf("failed to create JetStream context: %w", err)
			}

			stream, err := js.Stream(context.Background(), natspkg.StreamName)
			if err != nil {
				return fmt.Errorf("failed to get stream: %w", err)
			}

			info, err := stream.Info(context.Background())
			if err != nil {
				return fmt.Errorf("failed to get stream info: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(info)
			}

			fmt.Printf("Stream: %s\n", info.Config.Name)
			fmt.Printf("Subjects:  %v\n", info.Config.Subjects)
			fmt.Printf("Messages:  %d\n", info.State.Msgs)
			fmt.Printf("Bytes:     %d\n", info.State.Bytes)
			fmt.Printf("First Seq: %d\n", info.State.FirstSeq)
			fmt.Printf("Last Seq:  %d\n", info.State.LastSeq)
			fmt.Printf("Consumers: %d\n", info.State.Consumers)
			fmt.Printf("Max Age:   %s\n", info.Config.MaxAge)

			return nil
		},
	}
}
