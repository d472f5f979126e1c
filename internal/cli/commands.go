package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
)

func (a *app) migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create missing tables and seed order states",
		RunE: func(cmd *cobra.Command, args []string) error {
			if m, ok := a.backend.(migrator); ok {
				if err := m.Migrate(cmd.Context()); err != nil {
					return err
				}
			}
			if err := a.svc.SeedStates(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrated")
			return nil
		},
	}
}

func (a *app) seedStatesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed-states",
		Short: "Insert missing order states",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.svc.SeedStates(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "states seeded")
			return nil
		},
	}
}

func (a *app) statesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "states",
		Short: "List order states",
		RunE: func(cmd *cobra.Command, args []string) error {
			list, err := a.svc.ListStates(cmd.Context())
			if err != nil {
				return err
			}
			for _, s := range list {
				if s.Name.Terminal() {
					fmt.Fprintf(cmd.OutOrStdout(), "%s | %s (terminal)\n", s.ID, s.Name)
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s | %s\n", s.ID, s.Name)
			}
			return nil
		},
	}
}

func (a *app) userCmd() *cobra.Command {
	user := &cobra.Command{Use: "user", Short: "Manage users"}

	var username, email, phone string
	add := &cobra.Command{
		Use:   "add",
		Short: "Register a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			u, err := a.backend.CreateUser(cmd.Context(), orders.User{Username: username, Email: email, Phone: phone})
			if err != nil {
				return err
			}
			a.logger.Info("user created", zap.String("user_id", u.ID))
			return printJSON(cmd.OutOrStdout(), u)
		},
	}
	add.Flags().StringVar(&username, "username", "", "username")
	add.Flags().StringVar(&email, "email", "", "email")
	add.Flags().StringVar(&phone, "phone", "", "phone")
	_ = add.MarkFlagRequired("username")

	user.AddCommand(add)
	return user
}

func (a *app) productCmd() *cobra.Command {
	product := &cobra.Command{Use: "product", Short: "Manage products"}

	var (
		name, description, image, price, weight string
		categories                              []string
		available                               int
	)
	add := &cobra.Command{
		Use:   "add",
		Short: "Register a product",
		RunE: func(cmd *cobra.Command, args []string) error {
			p := orders.Product{Name: name, Description: description, Image: image, Available: available}
			var err error
			if p.Price, err = decimal.NewFromString(price); err != nil {
				return fmt.Errorf("invalid price %q: %w", price, err)
			}
			if p.Weight, err = decimal.NewFromString(weight); err != nil {
				return fmt.Errorf("invalid weight %q: %w", weight, err)
			}
			for _, c := range categories {
				cat, err := a.backend.EnsureCategory(cmd.Context(), c)
				if err != nil {
					return err
				}
				p.CategoryIDs = append(p.CategoryIDs, cat.ID)
			}
			p, err = a.backend.CreateProduct(cmd.Context(), p)
			if err != nil {
				return err
			}
			a.logger.Info("product created", zap.String("product_id", p.ID))
			return printJSON(cmd.OutOrStdout(), p)
		},
	}
	add.Flags().StringVar(&name, "name", "", "name")
	add.Flags().StringVar(&description, "description", "", "description")
	add.Flags().StringVar(&image, "image", "", "image reference")
	add.Flags().StringVar(&price, "price", "", "unit price, e.g. 19.90")
	add.Flags().StringVar(&weight, "weight", "", "unit weight")
	add.Flags().StringSliceVar(&categories, "category", nil, "category name (repeatable)")
	add.Flags().IntVar(&available, "available", 0, "units in stock")
	_ = add.MarkFlagRequired("name")
	_ = add.MarkFlagRequired("price")
	_ = add.MarkFlagRequired("weight")

	get := &cobra.Command{
		Use:   "get <id>",
		Short: "Show a product",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := a.svc.GetProduct(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), p)
		},
	}

	product.AddCommand(add, get)
	return product
}

func (a *app) ordersCmd() *cobra.Command {
	var state, user, product, output string
	cmd := &cobra.Command{
		Use:   "orders",
		Short: "List orders",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := orders.OrderFilter{UserID: user, ProductID: product}
			if state != "" {
				st, ok := orders.ParseState(state)
				if !ok {
					return fmt.Errorf("unknown state %q", state)
				}
				filter.State = st
			}
			list, err := a.svc.ListOrders(cmd.Context(), filter)
			if err != nil {
				return err
			}
			if output == "json" {
				views := make([]orders.OrderView, 0, len(list))
				for _, o := range list {
					views = append(views, orders.NewOrderView(o))
				}
				return printJSON(cmd.OutOrStdout(), views)
			}
			for _, o := range list {
				fmt.Fprintf(cmd.OutOrStdout(), "%s | %s | %s | %d\n", o.ID, o.State.Name, o.UserID, o.TotalQuantity())
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&state, "state", "", "filter by state name")
	cmd.Flags().StringVar(&user, "user", "", "filter by user id")
	cmd.Flags().StringVar(&product, "product", "", "filter by product id")
	cmd.Flags().StringVar(&output, "output", "", "output format: json")
	return cmd
}

func (a *app) orderCmd() *cobra.Command {
	order := &cobra.Command{Use: "order", Short: "Maintain a single order"}

	var user string
	var items []string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create an order, reserving stock",
		RunE: func(cmd *cobra.Command, args []string) error {
			lines, err := parseItems(items)
			if err != nil {
				return err
			}
			o, err := a.svc.CreateOrder(cmd.Context(), orders.CreateOrderInput{UserID: user, Items: lines})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), orders.NewOrderView(o))
		},
	}
	create.Flags().StringVar(&user, "user", "", "user id")
	create.Flags().StringArrayVar(&items, "item", nil, "product_id:quantity (repeatable)")

	transition := &cobra.Command{
		Use:   "transition <id> <state>",
		Short: "Move an order to another state",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ack, err := a.svc.TransitionOrderState(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s -> %s\n", ack.OrderID, ack.Previous, ack.Current)
			return nil
		},
	}

	var force bool
	del := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an order and release its stock",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !force {
				fmt.Fprintf(cmd.OutOrStdout(), "Delete %s? (y/N): ", args[0])
				var resp string
				if _, err := fmt.Fscanln(cmd.InOrStdin(), &resp); err != nil || (resp != "y" && resp != "Y") {
					fmt.Fprintln(cmd.OutOrStdout(), "aborted")
					return nil
				}
			}
			o, err := a.svc.DeleteOrder(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s, released %d units\n", o.ID, o.TotalQuantity())
			return nil
		},
	}
	del.Flags().BoolVar(&force, "force", false, "skip confirmation")

	order.AddCommand(create, transition, del)
	return order
}

func parseItems(raw []string) ([]orders.LineItem, error) {
	out := make([]orders.LineItem, 0, len(raw))
	for _, r := range raw {
		id, qty, ok := strings.Cut(r, ":")
		if !ok {
			return nil, fmt.Errorf("item %q: want product_id:quantity", r)
		}
		n, err := strconv.Atoi(qty)
		if err != nil {
			return nil, fmt.Errorf("item %q: %w", r, err)
		}
		out = append(out, orders.LineItem{ProductID: strings.TrimSpace(id), Quantity: n})
	}
	if len(out) == 0 {
		return nil, errors.New("at least one --item is required")
	}
	return out, nil
}

func printJSON(w io.Writer, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}
