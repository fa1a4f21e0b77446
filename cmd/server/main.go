package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"mzlxgateway/internal/keepalive"
	"mzlxgateway/internal/purchase"
	"mzlxgateway/internal/server"
)

func main() {
	root := &cobra.Command{
		Use:          "mzlx-gateway",
		Short:        "MZLX purchase gateway",
		SilenceUsage: true,
		RunE:         runServe,
	}

	root.PersistentFlags().String("env-file", ".env", "optional dotenv file loaded before the environment")
	root.PersistentFlags().String("log-level", "", "log level override (debug, info, warn, error)")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE:  runServe,
	}
	root.AddCommand(serveCmd)

	verifyCmd := &cobra.Command{
		Use:   "verify <txHash>",
		Short: "Check a payment transaction without paying out",
		Args:  cobra.ExactArgs(1),
		RunE:  runVerify,
	}
	verifyCmd.Flags().String("usdt-amount", "0", "claimed USDT amount, checked when VERIFY_PAID_AMOUNT is set")
	root.AddCommand(verifyCmd)

	healthCmd := &cobra.Command{
		Use:   "health",
		Short: "Print a treasury snapshot",
		RunE:  runHealth,
	}
	root.AddCommand(healthCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cmd, true)
	if err != nil {
		return err
	}
	defer a.close()

	dlq := server.NewDLQ(a.cfg.Service.DLQPath, a.logger.Named("dlq"))
	settler := purchase.NewSettler(purchase.SettlerConfig{
		RequireProof:   a.cfg.Purchase.RequireProof,
		ConfirmTimeout: a.cfg.Chain.ConfirmTimeout,
	}, a.chain, a.verifier(), a.treasury, a.ledger, dlq, a.logger.Named("purchase"))

	apiServer := server.NewServer(a.cfg, server.Deps{
		Chain:    a.chain,
		Settler:  settler,
		Reporter: a.reporter(),
		Ledger:   a.ledger,
		DLQ:      dlq,
		Logger:   a.logger.Named("http"),
	})

	pinger := &keepalive.Pinger{
		URL:      a.cfg.KeepAlive.URL,
		Interval: a.cfg.KeepAlive.Interval,
		Logger:   a.logger.Named("keepalive"),
	}
	go pinger.Run(ctx)

	a.logger.Info("gateway start",
		zap.String("network", a.cfg.Chain.NetworkName),
		zap.String("admin", a.cfg.Chain.AdminAddress.Hex()),
		zap.String("receiver", a.cfg.Chain.ReceiverAddress.Hex()),
		zap.String("usdt", a.cfg.Chain.StablecoinContract.Hex()),
		zap.String("mzlx", a.cfg.Chain.TokenContract.Hex()),
		zap.String("ledger", a.cfg.Ledger.Backend),
		zap.Bool("require_proof", a.cfg.Purchase.RequireProof),
		zap.Int("port", a.cfg.Service.HTTPPort),
	)

	errCh := make(chan error, 1)
	go func() {
		errCh <- apiServer.Start()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server stopped: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	a.logger.Info("shutting down")
	// Purchases in progress may be waiting on payout confirmation.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Chain.ConfirmTimeout+5*time.Second)
	defer cancel()
	return apiServer.Shutdown(shutdownCtx)
}

type verifyOutput struct {
	ProofTxHash string         `json:"proofTxHash"`
	Accepted    bool           `json:"accepted"`
	Reason      string         `json:"reason,omitempty"`
	Message     string         `json:"message,omitempty"`
	BlockNumber uint64         `json:"blockNumber,omitempty"`
	Paid        string         `json:"paidUnits,omitempty"`
	Transfers   []transferJSON `json:"transfers,omitempty"`
}

type transferJSON struct {
	From  string `json:"from"`
	To    string `json:"to"`
	Value string `json:"valueUnits"`
}

func runVerify(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	raw, _ := cmd.Flags().GetString("usdt-amount")
	claimed, err := decimal.NewFromString(raw)
	if err != nil {
		return fmt.Errorf("invalid --usdt-amount: %w", err)
	}
	if !purchase.IsTxHash(args[0]) {
		return fmt.Errorf("invalid transaction hash format")
	}

	a, err := newApp(ctx, cmd, false)
	if err != nil {
		return err
	}
	defer a.close()

	hash := common.HexToHash(args[0])
	out := verifyOutput{ProofTxHash: hash.Hex()}

	result, err := a.verifier().Verify(ctx, hash, claimed)
	var rej *purchase.Rejection
	switch {
	case errors.As(err, &rej):
		out.Reason = string(rej.Reason)
		out.Message = rej.Message
	case err != nil:
		return err
	default:
		out.Accepted = true
		out.BlockNumber = result.BlockNumber
		out.Paid = result.Paid.String()
		for _, t := range result.Transfers {
			out.Transfers = append(out.Transfers, transferJSON{From: t.From.Hex(), To: t.To.Hex(), Value: t.Value.String()})
		}
	}
	return printJSON(cmd, out)
}

func runHealth(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cmd, false)
	if err != nil {
		return err
	}
	defer a.close()

	report, err := a.reporter().Snapshot(ctx)
	if err != nil {
		return err
	}
	return printJSON(cmd, report)
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
