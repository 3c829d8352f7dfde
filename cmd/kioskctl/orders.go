package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"kiosk/internal/service/order/infrastructure"
)

func ordersCmd(connect connectFunc) *cobra.Command {
	var since time.Duration

	cmd := &cobra.Command{
		Use:   "orders",
		Short: "List confirmed orders placed within the given window",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := connect(cmd.Context())
			if err != nil {
				return err
			}
			defer client.Close()

			repo, err := infrastructure.NewRedisOrderRepository(client)
			if err != nil {
				return err
			}
			end := time.Now()
			ids, err := repo.FindRange(cmd.Context(), end.Add(-since), end)
			if err != nil {
				return err
			}
			orders, err := repo.FindMany(cmd.Context(), ids)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "SEQ\tID\tSTATE\tPAY_WITH\tPRICE\tDATE")
			for _, o := range orders {
				fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%d\t%s\n",
					o.Sequence, o.ID, o.State, o.PayWith, o.Price, o.Date.Local().Format(time.DateTime))
			}
			return w.Flush()
		},
	}
	cmd.Flags().DurationVar(&since, "since", 24*time.Hour, "how far back to look")
	return cmd
}
