package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/minersworld/tipledger/service/db"
	"github.com/urfave/cli/v2"
)

func listUsersCommand() *cli.Command {
	return &cli.Command{
		Name:    "list-users",
		Usage:   "List registered users",
		Aliases: []string{"ls"},
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"n"},
				Usage:   "Maximum number of users to show",
				Value:   50,
			},
		},
		Action: func(c *cli.Context) error {
			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			users, err := store.ListUsers(context.Background(), int32(c.Int("limit")))
			if err != nil {
				return fmt.Errorf("failed to list users: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(users)
			}

			// Pretty table output
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "USER ID\tBALANCE\tUNCONFIRMED\tADDRESS\tSOAK\tCREATED")
			for _, u := range users {
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%t\t%s\n",
					u.SnowflakeID,
					u.Balance.String(),
					u.BalanceUnconfirmed.String(),
					u.Address,
					u.AllowSoak,
					u.CreatedAt.Format(time.RFC3339),
				)
			}
			w.Flush()

			fmt.Fprintf(os.Stderr, "\nTotal: %d users\n", len(users))
			return nil
		},
	}
}

func getUserCommand() *cli.Command {
	return &cli.Command{
		Name:      "get-user",
		Usage:     "Get user details",
		Aliases:   []string{"get"},
		ArgsUsage: "<user_id>",
		Action: func(c *cli.Context) error {
			userID, err := argUserID(c)
			if err != nil {
				return err
			}

			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			user, err := store.GetUser(context.Background(), userID)
			if err != nil {
				return fmt.Errorf("failed to get user: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(user)
			}

			// Pretty output
			fmt.Printf("User ID:     %d\n", user.SnowflakeID)
			fmt.Printf("Balance:     %s\n", user.Balance.String())
			fmt.Printf("Unconfirmed: %s\n", user.BalanceUnconfirmed.String())
			fmt.Printf("Address:     %s\n", user.Address)
			fmt.Printf("Allow Soak:  %t\n", user.AllowSoak)
			fmt.Printf("Created:     %s\n", user.CreatedAt.Format(time.RFC3339))
			fmt.Printf("Updated:     %s\n", user.UpdatedAt.Format(time.RFC3339))

			return nil
		},
	}
}

func listDepositsCommand() *cli.Command {
	return &cli.Command{
		Name:      "list-deposits",
		Usage:     "List a user's deposits",
		Aliases:   []string{"deposits"},
		ArgsUsage: "<user_id>",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"n"},
				Usage:   "Maximum number of deposits to show",
				Value:   25,
			},
		},
		Action: func(c *cli.Context) error {
			userID, err := argUserID(c)
			if err != nil {
				return err
			}

			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			deposits, err := store.ListDepositsByUser(context.Background(), userID, int32(c.Int("limit")))
			if err != nil {
				return fmt.Errorf("failed to list deposits: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(deposits)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "TXID\tAMOUNT\tSTATUS\tCREATED")
			for _, d := range deposits {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
					d.TxID,
					d.Amount.String(),
					d.Status,
					d.CreatedAt.Format(time.RFC3339),
				)
			}
			w.Flush()

			fmt.Fprintf(os.Stderr, "\nTotal: %d deposits\n", len(deposits))
			return nil
		},
	}
}

func pendingAirdropsCommand() *cli.Command {
	return &cli.Command{
		Name:  "pending-airdrops",
		Usage: "List airdrops that are due but not yet executed",
		Action: func(c *cli.Context) error {
			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			airdrops, err := store.ListPendingAirdrops(context.Background(), time.Now())
			if err != nil {
				return fmt.Errorf("failed to list pending airdrops: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(airdrops)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tCREATOR\tCHANNEL\tAMOUNT\tSPLIT\tEXECUTE AT")
			for _, a := range airdrops {
				fmt.Fprintf(w, "%d\t%d\t%d\t%s\t%t\t%s\n",
					a.ID,
					a.CreatorID,
					a.ChannelID,
					a.Amount.String(),
					a.Split,
					a.ExecuteAt.Format(time.RFC3339),
				)
			}
			w.Flush()

			fmt.Fprintf(os.Stderr, "\nTotal: %d pending airdrops\n", len(airdrops))
			return nil
		},
	}
}

// getStore creates a database store from the CLI context.
func getStore(c *cli.Context) (*db.Store, func(), error) {
	dbURL := c.String("database-url")
	if dbURL == "" {
		dbURL = os.Getenv("DATABASE_URL")
	}
	if dbURL == "" {
		return nil, nil, fmt.Errorf("database-url is required (set DATABASE_URL env var or use --database-url)")
	}

	pool, err := pgxpool.New(context.Background(), dbURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := db.NewStore(pool)
	closer := func() { pool.Close() }

	return store, closer, nil
}

// argUserID parses the single user ID positional argument.
func argUserID(c *cli.Context) (int64, error) {
	if c.NArg() != 1 {
		return 0, fmt.Errorf("requires exactly one argument: user ID")
	}
	id, err := strconv.ParseInt(c.Args().First(), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid user ID %q", c.Args().First())
	}
	return id, nil
}

// outputJSON prints v as indented JSON.
func outputJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
