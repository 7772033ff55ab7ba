package main

import (
	"fmt"
	"io"
	"slices"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/go-faster/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xenking/fresh-pickup/internal/domain/catalog"
	"github.com/xenking/fresh-pickup/internal/domain/order"
	"github.com/xenking/fresh-pickup/internal/domain/slot"
)

// transitions lists the statuses an order may move to from each state.
// Completed and cancelled orders are final.
var transitions = map[order.Status][]order.Status{
	order.StatusPending:  {order.StatusWeighing, order.StatusReady, order.StatusCancelled},
	order.StatusWeighing: {order.StatusReady, order.StatusCancelled},
	order.StatusReady:    {order.StatusCompleted, order.StatusCancelled},
}

func table(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
}

func slotsCmd(opts *options, open opener) *cobra.Command {
	var date string
	cmd := &cobra.Command{
		Use:   "slots",
		Short: "Show slot occupancy for a day",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withBackend(cmd, opts, open, func(b *backend) error {
				day := slot.Day(b.Now().In(b.Loc))
				if date != "" {
					var err error
					if day, err = slot.ParseDate(date); err != nil {
						return err
					}
				}
				openings, err := b.Slots.Availability(cmd.Context(), day)
				if err != nil {
					return errors.Wrap(err, "get availability")
				}
				return printOpenings(cmd.OutOrStdout(), day, openings)
			})
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "day to show (YYYY-MM-DD), defaults to today in the store time zone")
	return cmd
}

func printOpenings(w io.Writer, day time.Time, openings []slot.Opening) error {
	if _, err := fmt.Fprintf(w, "%s\n", day.Format(slot.DateLayout+" (Monday)")); err != nil {
		return err
	}
	if len(openings) == 0 {
		_, err := fmt.Fprintln(w, "no active slots")
		return err
	}
	tw := table(w)
	_, _ = fmt.Fprintln(tw, "RANGE\tBOOKED\tMAX\tREMAINING")
	for _, o := range openings {
		remaining := fmt.Sprint(o.Remaining)
		if o.Remaining == 0 {
			remaining = "full"
		}
		_, _ = fmt.Fprintf(tw, "%s\t%d\t%d\t%s\n", o.Slot.Range(), o.Booked, o.Slot.MaxOrders, remaining)
	}
	return tw.Flush()
}

func goodsCmd(opts *options, open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "goods",
		Short: "Show stock and the largest orderable quantity per good",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withBackend(cmd, opts, open, func(b *backend) error {
				offers, err := b.Service.Offers(cmd.Context())
				if err != nil {
					return errors.Wrap(err, "list offers")
				}
				return printOffers(cmd.OutOrStdout(), offers)
			})
		},
	}
}

func printOffers(w io.Writer, offers []order.Offer) error {
	tw := table(w)
	_, _ = fmt.Fprintln(tw, "ID\tMODE\tSTOCK KG\tMAX ORDERABLE\tPRICE/KG\tCUTS")
	for _, o := range offers {
		cuts := make([]string, 0, len(o.Cuts))
		for _, c := range o.Cuts {
			cuts = append(cuts, c.ID)
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			o.Good.ID,
			o.Good.PricingMode,
			o.Good.AvailableKg.String(),
			orderable(o),
			o.Good.PricePerKg.StringFixed(2),
			strings.Join(cuts, ","),
		)
		for _, s := range o.Sizes {
			_, _ = fmt.Fprintf(tw, "  %s\t\t\t%s pc\t\t~%s kg each\n", s.Size, s.MaxOrderable.String(), s.AverageWeightKg.String())
		}
	}
	return tw.Flush()
}

func orderable(o order.Offer) string {
	if o.Good.PricingMode == catalog.ByUnit {
		return o.MaxOrderable.String() + " pc"
	}
	return o.MaxOrderable.String() + " kg"
}

func orderCmd(opts *options, open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "order ID",
		Short: "Show an order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackend(cmd, opts, open, func(b *backend) error {
				o, err := b.Service.Get(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printOrder(cmd.OutOrStdout(), o)
			})
		},
	}
}

func printOrder(w io.Writer, o *order.Order) error {
	_, _ = fmt.Fprintf(w, "Order %s (%s)\n", o.ID, o.Status)
	_, _ = fmt.Fprintf(w, "Customer: %s, %s\n", o.Customer.Name, o.Customer.Phone)
	_, _ = fmt.Fprintf(w, "Pickup:   %s %s\n", o.DeliveryDate.Format(slot.DateLayout), o.DeliveryTime)
	if o.Customer.Notes != "" {
		_, _ = fmt.Fprintf(w, "Notes:    %s\n", o.Customer.Notes)
	}
	if o.StockShortfall {
		_, _ = fmt.Fprintln(w, "Warning:  stock shortfall, check the counter before weighing")
	}

	tw := table(w)
	_, _ = fmt.Fprintln(tw, "GOOD\tCUT\tQTY\tKG\tUNIT\tTOTAL")
	for _, l := range o.Lines {
		qty := l.Quantity.String()
		if l.Size != "" {
			qty += " " + l.Size
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			l.GoodName, l.CutName, qty, l.WeightKg.String(), l.UnitPrice.StringFixed(2), l.LineTotal.StringFixed(2))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	_, _ = fmt.Fprintf(w, "Subtotal: %s\n", o.Subtotal.StringFixed(2))
	if o.CouponCode != "" {
		_, _ = fmt.Fprintf(w, "Discount: -%s (%s)\n", o.DiscountAmount.StringFixed(2), o.CouponCode)
	}
	_, err := fmt.Fprintf(w, "Total:    %s\n", o.TotalPrice.StringFixed(2))
	return err
}

func statusCmd(opts *options, open opener) *cobra.Command {
	return &cobra.Command{
		Use:       "status ID STATUS",
		Short:     "Move an order to weighing, ready, completed or cancelled",
		Args:      cobra.ExactArgs(2),
		ValidArgs: []string{"weighing", "ready", "completed", "cancelled"},
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackend(cmd, opts, open, func(b *backend) error {
				return setStatus(cmd, b, args[0], order.Status(strings.ToLower(args[1])))
			})
		},
	}
}

func cancelCmd(opts *options, open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel ID",
		Short: "Cancel an order and free its pickup slot",
		Long: "Cancel an order. The slot it booked becomes available again; " +
			"stock and coupon uses are not restored.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackend(cmd, opts, open, func(b *backend) error {
				return setStatus(cmd, b, args[0], order.StatusCancelled)
			})
		},
	}
}

func setStatus(cmd *cobra.Command, b *backend, id string, to order.Status) error {
	ctx := cmd.Context()
	o, err := b.Orders.Get(ctx, id)
	if err != nil {
		return err
	}
	if o.Status == to {
		_, err := fmt.Fprintf(cmd.OutOrStdout(), "order %s is already %s\n", id, to)
		return err
	}
	if !slices.Contains(transitions[o.Status], to) {
		return errors.Errorf("order %s cannot move from %s to %s", id, o.Status, to)
	}
	if err := b.Orders.UpdateStatus(ctx, id, o.Status, to); err != nil {
		if errors.Is(err, order.ErrStatusChanged) {
			return errors.Wrapf(err, "order %s is no longer %s, retry", id, o.Status)
		}
		return errors.Wrap(err, "update status")
	}
	b.Log.Info("Order status changed",
		zap.String("order_id", id),
		zap.String("from", string(o.Status)),
		zap.String("to", string(to)),
	)
	_, err = fmt.Fprintf(cmd.OutOrStdout(), "order %s: %s -> %s\n", id, o.Status, to)
	return err
}
