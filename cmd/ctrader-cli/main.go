package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"

	"ctrader/pkg/ctrader"
)

const version = "0.1.0"

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: ctrader-cli <command> [args]\n\n")
	fmt.Fprintf(os.Stderr, "Commands:\n")
	fmt.Fprintf(os.Stderr, "  version                               Print the CLI version\n")
	fmt.Fprintf(os.Stderr, "  health                                Show ctrader-server status\n")
	fmt.Fprintf(os.Stderr, "  submit SYMBOL SIDE TYPE QTY [PRICE]   Submit an order\n")
	fmt.Fprintf(os.Stderr, "  cancel ORDER_ID [SYMBOL]              Cancel an open order\n")
	fmt.Fprintf(os.Stderr, "  status ORDER_ID [SYMBOL]              Show one order\n")
	fmt.Fprintf(os.Stderr, "  orders [SYMBOL]                       List open orders\n")
	fmt.Fprintf(os.Stderr, "  executions [STATUS]                   List settled orders\n")
	fmt.Fprintf(os.Stderr, "  signal STRATEGY SYMBOL SIDE TYPE QTY  Submit a strategy signal\n")
	fmt.Fprintf(os.Stderr, "\nThe server address comes from CTRADER_SERVER (default http://localhost:8080).\n")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	baseURL := os.Getenv("CTRADER_SERVER")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	client := ctrader.NewClient(baseURL)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	args := os.Args[2:]
	switch os.Args[1] {
	case "version":
		fmt.Printf("ctrader-cli %s\n", version)

	case "health":
		h, err := client.Health(ctx)
		fatalOn(err)
		fmt.Printf("status=%s venue=%s tracked_orders=%d\n", h.Status, h.Venue, h.TrackedOrders)

	case "submit":
		if len(args) < 4 {
			usage()
			os.Exit(1)
		}
		req := ctrader.OrderRequest{
			Symbol: args[0],
			Side:   args[1],
			Type:   args[2],
			Qty:    mustDecimal(args[3]),
		}
		if len(args) > 4 {
			req.Price = mustDecimal(args[4])
		}
		id, err := client.SubmitOrder(ctx, req)
		fatalOn(err)
		fmt.Println(id)

	case "cancel":
		if len(args) < 1 {
			usage()
			os.Exit(1)
		}
		symbol := ""
		if len(args) > 1 {
			symbol = args[1]
		}
		fatalOn(client.CancelOrder(ctx, args[0], symbol))
		fmt.Println("cancel requested")

	case "status":
		if len(args) < 1 {
			usage()
			os.Exit(1)
		}
		symbol := ""
		if len(args) > 1 {
			symbol = args[1]
		}
		ord, err := client.GetOrder(ctx, args[0], symbol)
		fatalOn(err)
		printOrder(*ord)

	case "orders":
		symbol := ""
		if len(args) > 0 {
			symbol = args[0]
		}
		orders, err := client.ListOpenOrders(ctx, symbol)
		fatalOn(err)
		for _, o := range orders {
			printOrder(o)
		}
		fmt.Printf("%d open orders\n", len(orders))

	case "executions":
		status := ""
		if len(args) > 0 {
			status = args[0]
		}
		recs, err := client.ListExecutions(ctx, status, "", 50)
		fatalOn(err)
		for _, o := range recs {
			printOrder(o)
		}
		fmt.Printf("%d executions\n", len(recs))

	case "signal":
		if len(args) < 5 {
			usage()
			os.Exit(1)
		}
		id, err := client.SubmitSignal(ctx, ctrader.Signal{
			StrategyID: args[0],
			Symbol:     args[1],
			Side:       args[2],
			Type:       args[3],
			Qty:        mustDecimal(args[4]),
		})
		fatalOn(err)
		fmt.Println(id)

	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		usage()
		os.Exit(1)
	}
}

func printOrder(o ctrader.Order) {
	price := o.Price.String()
	if o.Price.IsZero() {
		price = "-"
	}
	fmt.Printf("%-12s %-6s %-4s %-6s qty=%-8s price=%-8s filled=%-8s %-16s %s\n",
		o.VenueID, o.Symbol, o.Side, o.Type, o.Qty, price, o.FilledQty,
		o.Status, o.UpdatedAt.Local().Format("2006-01-02 15:04:05"))
}

func mustDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid number %q\n", s)
		os.Exit(1)
	}
	return d
}

func fatalOn(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
