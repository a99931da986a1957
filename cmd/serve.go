package cmd

import (
	"fmt"
	"net/http"
	"time"

	"bankd/exception"
	"bankd/jsonrpc"
	"bankd/logx"
	"bankd/monitoring"
	"bankd/types"

	"github.com/spf13/cobra"
)

var (
	serveConfigPath  string
	serveGenesisPath string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the ledger as a JSON-RPC service",
	Run: func(cmd *cobra.Command, args []string) {
		runServer(serveConfigPath, serveGenesisPath)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVarP(&serveConfigPath, "config", "c", "config/config.ini", "Path to the server config file")
	serveCmd.Flags().StringVarP(&serveGenesisPath, "genesis", "g", "config/genesis.yml", "Path to the genesis file")
}

func runServer(configPath, genesisPath string) {
	monitoring.InitMetrics()

	application, err := buildApp(configPath, genesisPath)
	if err != nil {
		logx.Error("SERVE", "Failed to initialize:", err)
		return
	}
	defer application.accountStore.MustClose()

	rpcServer := jsonrpc.NewServer(application.serverCfg.RPCAddr, application.auth, application.ledger)
	if corsCfg, ok := jsonrpc.CORSFromEnv(); ok {
		rpcServer.SetCORSConfig(corsCfg)
	}
	rpcServer.Start()
	logx.Info("SERVE", fmt.Sprintf("JSON-RPC server listening on %s", application.serverCfg.RPCAddr))

	startMetricsServer(application)
	startActivityLog(application)

	// Block forever
	select {}
}

func startMetricsServer(application *app) {
	mux := http.NewServeMux()
	monitoring.RegisterMetrics(mux)

	exception.SafeGo("metrics_server", func() {
		logx.Info("SERVE", fmt.Sprintf("Metrics server listening on %s", application.serverCfg.MetricsAddr))
		if err := http.ListenAndServe(application.serverCfg.MetricsAddr, mux); err != nil {
			logx.Error("SERVE", "Metrics server stopped:", err)
		}
	})

	exception.SafeGo("funded_accounts_gauge", func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			accounts, err := application.accountStore.GetAll()
			if err != nil {
				continue
			}
			funded := 0
			for _, acc := range accounts {
				if acc.Funded() {
					funded++
				}
			}
			monitoring.SetFundedAccounts(funded)
		}
	})
}

// startActivityLog tails the event bus so operators see committed
// operations in the server log without querying the audit trail.
func startActivityLog(application *app) {
	id, ch := application.eventBus.Subscribe()

	exception.SafeGo("activity_log", func() {
		defer application.eventBus.Unsubscribe(id)
		for event := range ch {
			logx.Info("ACTIVITY", formatActivity(event))
		}
	})
}

func formatActivity(event *types.Event) string {
	if event.Kind == types.EventConfigUpdate && event.Config != nil {
		return fmt.Sprintf("event_id=%d kind=%s interest_rate=%d->%d existential_deposit=%s->%s",
			event.ID, event.Kind, event.Config.OldInterestRate, event.Config.NewInterestRate,
			event.Config.OldED, event.Config.NewED)
	}
	if event.Amount != nil {
		return fmt.Sprintf("event_id=%d kind=%s accounts=%v amount=%s", event.ID, event.Kind, event.AccountIDs, event.Amount)
	}
	return fmt.Sprintf("event_id=%d kind=%s accounts=%v", event.ID, event.Kind, event.AccountIDs)
}
