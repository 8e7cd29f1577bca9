package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/minersworld/tipledger/client"
	"github.com/shopspring/decimal"
	"github.com/urfave/cli/v2"
)

func clientCommands() *cli.Command {
	return &cli.Command{
		Name:  "client",
		Usage: "HTTP API client commands",
		Subcommands: []*cli.Command{
			registerUserCommand(),
			balanceCommand(),
			tipCommand(),
			withdrawCommand(),
			airdropCommand(),
			soakOptInCommand(),
		},
	}
}

func apiClient(c *cli.Context) *client.Client {
	return client.NewClient(c.String("server-url"), nil, nil)
}

func registerUserCommand() *cli.Command {
	return &cli.Command{
		Name:      "register",
		Usage:     "Register a user (mints a deposit address on first sight)",
		ArgsUsage: "<user_id>",
		Action: func(c *cli.Context) error {
			userID, err := argUserID(c)
			if err != nil {
				return err
			}

			user, err := apiClient(c).EnsureUser(context.Background(), userID)
			if err != nil {
				return err
			}

			if c.Bool("json") {
				return outputJSON(user)
			}

			fmt.Printf("User ID:     %d\n", user.UserID)
			fmt.Printf("Address:     %s\n", user.Address)
			fmt.Printf("Balance:     %s\n", user.Balance.String())
			fmt.Printf("Unconfirmed: %s\n", user.BalanceUnconfirmed.String())
			return nil
		},
	}
}

func balanceCommand() *cli.Command {
	return &cli.Command{
		Name:      "balance",
		Usage:     "Show a user's balances",
		ArgsUsage: "<user_id>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "which",
				Usage: "Which balance to show (confirmed, unconfirmed, all)",
				Value: "all",
			},
		},
		Action: func(c *cli.Context) error {
			userID, err := argUserID(c)
			if err != nil {
				return err
			}

			bal, err := apiClient(c).GetBalance(context.Background(), userID, c.String("which"))
			if err != nil {
				return err
			}

			if c.Bool("json") {
				return outputJSON(bal)
			}

			fmt.Printf("User ID: %d\n", bal.UserID)
			if bal.HasConfirmedPart {
				fmt.Printf("Balance:     %s\n", bal.Confirmed.String())
			}
			if bal.HasUnconfirmedPart {
				fmt.Printf("Unconfirmed: %s\n", bal.Unconfirmed.String())
			}
			return nil
		},
	}
}

func tipCommand() *cli.Command {
	return &cli.Command{
		Name:      "tip",
		Usage:     "Tip one or more users",
		ArgsUsage: "<from_user_id> <amount> <to_user_id> [to_user_id...]",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "split",
				Usage: "Split the amount across recipients instead of per-recipient",
			},
			&cli.BoolFlag{
				Name:  "soak",
				Usage: "Restrict recipients to users opted into soaks",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() < 3 {
				return fmt.Errorf("requires at least: from_user_id amount to_user_id")
			}

			fromID, err := strconv.ParseInt(c.Args().Get(0), 10, 64)
			if err != nil {
				return fmt.Errorf("invalid from_user_id %q", c.Args().Get(0))
			}
			amount, err := decimal.NewFromString(c.Args().Get(1))
			if err != nil {
				return fmt.Errorf("invalid amount %q", c.Args().Get(1))
			}

			recipients := make([]int64, 0, c.NArg()-2)
			for _, arg := range c.Args().Slice()[2:] {
				id, err := strconv.ParseInt(arg, 10, 64)
				if err != nil {
					return fmt.Errorf("invalid recipient %q", arg)
				}
				recipients = append(recipients, id)
			}

			cl := apiClient(c)

			// Single recipient without soak uses the plain tip endpoint.
			if len(recipients) == 1 && !c.Bool("soak") {
				tip, err := cl.Tip(context.Background(), fromID, recipients[0], amount)
				if err != nil {
					return err
				}
				if c.Bool("json") {
					return outputJSON(tip)
				}
				fmt.Printf("Tipped %s: %d -> %d\n", tip.Amount.String(), tip.FromUserID, tip.ToUserID)
				return nil
			}

			tips, err := cl.MultiTip(context.Background(), client.MultiTipParams{
				FromUserID: fromID,
				Recipients: recipients,
				Amount:     amount,
				Split:      c.Bool("split"),
				Soak:       c.Bool("soak"),
			})
			if err != nil {
				return err
			}

			if c.Bool("json") {
				return outputJSON(tips)
			}
			for _, tip := range tips {
				fmt.Printf("Tipped %s: %d -> %d\n", tip.Amount.String(), tip.FromUserID, tip.ToUserID)
			}
			fmt.Printf("Total: %d tips\n", len(tips))
			return nil
		},
	}
}

func withdrawCommand() *cli.Command {
	return &cli.Command{
		Name:      "withdraw",
		Usage:     "Withdraw funds to an external address",
		ArgsUsage: "<user_id> <address> <amount>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 3 {
				return fmt.Errorf("requires exactly: user_id address amount")
			}

			userID, err := strconv.ParseInt(c.Args().Get(0), 10, 64)
			if err != nil {
				return fmt.Errorf("invalid user_id %q", c.Args().Get(0))
			}
			address := c.Args().Get(1)
			amount, err := decimal.NewFromString(c.Args().Get(2))
			if err != nil {
				return fmt.Errorf("invalid amount %q", c.Args().Get(2))
			}

			wd, err := apiClient(c).Withdraw(context.Background(), userID, address, amount)
			if err != nil {
				return err
			}

			if c.Bool("json") {
				return outputJSON(wd)
			}

			fmt.Printf("Withdrawal complete\n")
			fmt.Printf("  TxID:    %s\n", wd.TxID)
			fmt.Printf("  Amount:  %s\n", wd.Amount.String())
			fmt.Printf("  Address: %s\n", wd.Address)
			return nil
		},
	}
}

func airdropCommand() *cli.Command {
	return &cli.Command{
		Name:  "airdrop",
		Usage: "Airdrop management commands",
		Subcommands: []*cli.Command{
			{
				Name:      "create",
				Usage:     "Schedule an airdrop",
				ArgsUsage: "<creator_id> <channel_id> <amount>",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "split",
						Usage: "Split the amount across recipients",
					},
					&cli.Int64Flag{
						Name:  "role-id",
						Usage: "Restrict recipients to a role",
					},
					&cli.DurationFlag{
						Name:  "in",
						Usage: "How long until the airdrop fires",
						Value: time.Hour,
					},
				},
				Action: func(c *cli.Context) error {
					if c.NArg() != 3 {
						return fmt.Errorf("requires exactly: creator_id channel_id amount")
					}

					creatorID, err := strconv.ParseInt(c.Args().Get(0), 10, 64)
					if err != nil {
						return fmt.Errorf("invalid creator_id %q", c.Args().Get(0))
					}
					channelID, err := strconv.ParseInt(c.Args().Get(1), 10, 64)
					if err != nil {
						return fmt.Errorf("invalid channel_id %q", c.Args().Get(1))
					}
					amount, err := decimal.NewFromString(c.Args().Get(2))
					if err != nil {
						return fmt.Errorf("invalid amount %q", c.Args().Get(2))
					}

					params := client.CreateAirdropParams{
						CreatorID: creatorID,
						ChannelID: channelID,
						Amount:    amount,
						Split:     c.Bool("split"),
						ExecuteAt: time.Now().Add(c.Duration("in")).UTC(),
					}
					if c.IsSet("role-id") {
						roleID := c.Int64("role-id")
						params.RoleID = &roleID
					}

					airdrop, err := apiClient(c).CreateAirdrop(context.Background(), params)
					if err != nil {
						return err
					}

					if c.Bool("json") {
						return outputJSON(airdrop)
					}

					fmt.Printf("Airdrop %d scheduled for %s\n", airdrop.ID, airdrop.ExecuteAt.Format(time.RFC3339))
					return nil
				},
			},
			{
				Name:      "list",
				Usage:     "List airdrops by creator",
				ArgsUsage: "<creator_id>",
				Action: func(c *cli.Context) error {
					creatorID, err := argUserID(c)
					if err != nil {
						return err
					}

					airdrops, err := apiClient(c).ListAirdrops(context.Background(), creatorID)
					if err != nil {
						return err
					}

					if c.Bool("json") {
						return outputJSON(airdrops)
					}

					for _, a := range airdrops {
						state := "pending"
						if a.Executed {
							state = "executed"
						}
						fmt.Printf("#%d  %s  %s  %s\n", a.ID, a.Amount.String(), state, a.ExecuteAt.Format(time.RFC3339))
					}
					fmt.Printf("Total: %d airdrops\n", len(airdrops))
					return nil
				},
			},
			{
				Name:      "cancel",
				Usage:     "Cancel a pending airdrop",
				ArgsUsage: "<airdrop_id> <requester_id>",
				Action: func(c *cli.Context) error {
					if c.NArg() != 2 {
						return fmt.Errorf("requires exactly: airdrop_id requester_id")
					}

					airdropID, err := strconv.ParseInt(c.Args().Get(0), 10, 64)
					if err != nil {
						return fmt.Errorf("invalid airdrop_id %q", c.Args().Get(0))
					}
					requesterID, err := strconv.ParseInt(c.Args().Get(1), 10, 64)
					if err != nil {
						return fmt.Errorf("invalid requester_id %q", c.Args().Get(1))
					}

					if err := apiClient(c).CancelAirdrop(context.Background(), airdropID, requesterID); err != nil {
						return err
					}

					fmt.Printf("Airdrop %d cancelled\n", airdropID)
					return nil
				},
			},
		},
	}
}

func soakOptInCommand() *cli.Command {
	return &cli.Command{
		Name:      "soak-opt-in",
		Usage:     "Enable or disable soak participation for a user",
		ArgsUsage: "<user_id> <true|false>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 2 {
				return fmt.Errorf("requires exactly: user_id true|false")
			}

			userID, err := strconv.ParseInt(c.Args().Get(0), 10, 64)
			if err != nil {
				return fmt.Errorf("invalid user_id %q", c.Args().Get(0))
			}
			enabled, err := strconv.ParseBool(c.Args().Get(1))
			if err != nil {
				return fmt.Errorf("invalid value %q: use true or false", c.Args().Get(1))
			}

			if err := apiClient(c).SetSoakOptIn(context.Background(), userID, enabled); err != nil {
				return err
			}

			fmt.Printf("Soak opt-in for %d set to %t\n", userID, enabled)
			return nil
		},
	}
}
