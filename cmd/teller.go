package cmd

import (
	"bufio"
	stderrors "errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"bankd/config"
	"bankd/errors"
	"bankd/logx"
	"bankd/monitoring"
	"bankd/permission"
	"bankd/store"
	"bankd/types"

	"github.com/holiman/uint256"
	"github.com/spf13/cobra"
)

var (
	tellerConfigPath  string
	tellerGenesisPath string
)

var tellerCmd = &cobra.Command{
	Use:   "teller",
	Short: "Run an interactive teller session against the ledger",
	Run: func(cmd *cobra.Command, args []string) {
		runTeller(tellerConfigPath, tellerGenesisPath)
	},
}

func init() {
	rootCmd.AddCommand(tellerCmd)
	tellerCmd.Flags().StringVarP(&tellerConfigPath, "config", "c", "config/config.ini", "Path to the server config file")
	tellerCmd.Flags().StringVarP(&tellerGenesisPath, "genesis", "g", "config/genesis.yml", "Path to the genesis file")
}

// teller drives the ledger directly over stdin, no RPC server involved.
// The same engine and stores back both modes.
type teller struct {
	application *app
	in          *bufio.Scanner
}

func runTeller(configPath, genesisPath string) {
	monitoring.InitMetrics()

	application, err := buildApp(configPath, genesisPath)
	if err != nil {
		logx.Error("TELLER", "Failed to initialize:", err)
		return
	}
	defer application.accountStore.MustClose()

	t := &teller{application: application, in: bufio.NewScanner(os.Stdin)}
	t.mainLoop()
}

func (t *teller) mainLoop() {
	for {
		fmt.Println("\n=== bankd teller ===")
		fmt.Println("1) Login")
		fmt.Println("2) Register")
		fmt.Println("3) Exit")

		switch t.prompt("Choice") {
		case "1":
			t.login()
		case "2":
			t.register()
		case "3":
			return
		default:
			fmt.Println("Unknown choice")
		}
	}
}

func (t *teller) login() {
	username := t.prompt("Username")
	password := t.prompt("Password")
	sess, err := t.application.auth.Login(username, password)
	if err != nil {
		t.printErr(err)
		return
	}
	fmt.Printf("Logged in as %s (account %d, %s)\n", username, sess.UserID, sess.Role)
	t.sessionLoop(username, *sess)
}

func (t *teller) register() {
	username := t.prompt("Username")
	password := t.prompt("Password")
	role := types.Role(t.prompt("Role (customer/manager/auditor)"))
	acc, err := t.application.auth.Register(username, password, role)
	if err != nil {
		t.printErr(err)
		return
	}
	fmt.Printf("Registered account %d for %s\n", acc.ID, acc.Owner)
}

func (t *teller) sessionLoop(username string, sess types.Session) {
	type menuItem struct {
		label string
		op    permission.Operation
		run   func(sess types.Session)
	}
	items := []menuItem{
		{"Deposit", permission.OpDeposit, t.deposit},
		{"Withdraw", permission.OpWithdraw, t.withdraw},
		{"Transfer", permission.OpTransfer, t.transfer},
		{"Check balance", permission.OpCheckBalance, t.checkBalance},
		{"Pay interest", permission.OpPayInterest, t.payInterest},
		{"Collect tax", permission.OpCollectTax, t.collectTax},
		{"Update config", permission.OpUpdateConfig, t.updateConfig},
		{"View report", permission.OpViewReport, t.viewReport},
		{"Query events", permission.OpQueryEvents, t.queryEvents},
	}

	// Only the operations this role may perform appear in the menu; the
	// ledger still enforces the permission table on every call.
	var allowed []menuItem
	for _, item := range items {
		if permission.Allowed(item.op, sess.Role) {
			allowed = append(allowed, item)
		}
	}

	for {
		fmt.Printf("\n--- %s (%s) ---\n", username, sess.Role)
		for i, item := range allowed {
			fmt.Printf("%d) %s\n", i+1, item.label)
		}
		fmt.Printf("%d) Change password\n", len(allowed)+1)
		fmt.Printf("%d) Logout\n", len(allowed)+2)

		choice, err := strconv.Atoi(t.prompt("Choice"))
		if err != nil || choice < 1 || choice > len(allowed)+2 {
			fmt.Println("Unknown choice")
			continue
		}
		switch {
		case choice <= len(allowed):
			allowed[choice-1].run(sess)
		case choice == len(allowed)+1:
			t.changePassword(username)
		default:
			return
		}
	}
}

func (t *teller) deposit(sess types.Session) {
	amount, ok := t.promptAmount("Amount")
	if !ok {
		return
	}
	balance, err := t.application.ledger.Deposit(sess, amount)
	if err != nil {
		t.printErr(err)
		return
	}
	fmt.Printf("New balance: %s\n", balance)
}

func (t *teller) withdraw(sess types.Session) {
	amount, ok := t.promptAmount("Amount")
	if !ok {
		return
	}
	balance, err := t.application.ledger.Withdraw(sess, amount)
	if err != nil {
		t.printErr(err)
		return
	}
	if balance == nil {
		fmt.Println("Account reaped: remaining balance fell below the existential deposit")
		return
	}
	fmt.Printf("New balance: %s\n", balance)
}

func (t *teller) transfer(sess types.Session) {
	to, err := strconv.ParseUint(t.prompt("Recipient account id"), 10, 64)
	if err != nil {
		fmt.Println("Invalid account id")
		return
	}
	amount, ok := t.promptAmount("Amount")
	if !ok {
		return
	}
	if err := t.application.ledger.Transfer(sess, to, amount); err != nil {
		t.printErr(err)
		return
	}
	fmt.Println("Transfer complete")
}

func (t *teller) checkBalance(sess types.Session) {
	balance, err := t.application.ledger.CheckBalance(sess)
	if err != nil {
		t.printErr(err)
		return
	}
	if balance == nil {
		fmt.Println("Account is reaped (no balance)")
		return
	}
	fmt.Printf("Balance: %s\n", balance)
}

func (t *teller) payInterest(sess types.Session) {
	event, err := t.application.ledger.PayInterest(sess)
	if err != nil {
		t.printErr(err)
		return
	}
	fmt.Printf("Paid %s total interest to %d accounts\n", event.Amount, len(event.AccountIDs))
}

func (t *teller) collectTax(sess types.Session) {
	raw := t.prompt(fmt.Sprintf("Tax rate in percent (blank for %d)", config.DefaultTaxRate))
	rate, err := parseTaxRate(raw)
	if err != nil {
		fmt.Println("Invalid rate")
		return
	}
	event, err := t.application.ledger.CollectTax(sess, rate)
	if err != nil {
		t.printErr(err)
		return
	}
	fmt.Printf("Collected %s total tax from %d accounts\n", event.Amount, len(event.AccountIDs))
}

func (t *teller) updateConfig(sess types.Session) {
	var newRate *uint64
	if raw := t.prompt("New interest rate in percent (blank to keep)"); raw != "" {
		rate, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			fmt.Println("Invalid rate")
			return
		}
		newRate = &rate
	}
	var newED *uint256.Int
	if raw := t.prompt("New existential deposit (blank to keep)"); raw != "" {
		ed, err := uint256.FromDecimal(raw)
		if err != nil {
			fmt.Println("Invalid amount")
			return
		}
		newED = ed
	}
	cfg, err := t.application.ledger.UpdateConfig(sess, newRate, newED)
	if err != nil {
		t.printErr(err)
		return
	}
	fmt.Printf("Config: interest_rate=%d%% existential_deposit=%s\n", cfg.InterestRate, cfg.ExistentialDeposit)
}

func (t *teller) viewReport(sess types.Session) {
	rows, err := t.application.ledger.Report(sess)
	if err != nil {
		t.printErr(err)
		return
	}
	fmt.Printf("%-6s %-20s %-10s %s\n", "ID", "OWNER", "ROLE", "BALANCE")
	for _, row := range rows {
		balance := "reaped"
		if row.Balance != nil {
			balance = row.Balance.Dec()
		}
		fmt.Printf("%-6d %-20s %-10s %s\n", row.ID, row.Owner, row.Role, balance)
	}
}

func (t *teller) queryEvents(sess types.Session) {
	fmt.Println("1) All events")
	fmt.Println("2) By account")
	fmt.Println("3) By kind")

	var (
		it  *store.EventIterator
		err error
	)
	switch t.prompt("Choice") {
	case "1":
		it, err = t.application.ledger.AllEvents(sess)
	case "2":
		id, parseErr := strconv.ParseUint(t.prompt("Account id"), 10, 64)
		if parseErr != nil {
			fmt.Println("Invalid account id")
			return
		}
		it, err = t.application.ledger.EventsByAccount(sess, id)
	case "3":
		raw := t.prompt("Kinds (comma separated)")
		var kinds []types.EventKind
		for _, k := range strings.Split(raw, ",") {
			kinds = append(kinds, types.EventKind(strings.TrimSpace(k)))
		}
		it, err = t.application.ledger.EventsByKind(sess, kinds...)
	default:
		fmt.Println("Unknown choice")
		return
	}
	if err != nil {
		t.printErr(err)
		return
	}
	count := 0
	for {
		event, ok := it.Next()
		if !ok {
			break
		}
		count++
		fmt.Println(formatActivity(event))
	}
	fmt.Printf("%d events\n", count)
}

func (t *teller) changePassword(username string) {
	oldPassword := t.prompt("Old password")
	newPassword := t.prompt("New password")
	if err := t.application.auth.ChangePassword(username, oldPassword, newPassword); err != nil {
		t.printErr(err)
		return
	}
	fmt.Println("Password changed")
}

func (t *teller) prompt(label string) string {
	fmt.Printf("%s: ", label)
	if !t.in.Scan() {
		os.Exit(0)
	}
	return strings.TrimSpace(t.in.Text())
}

func (t *teller) promptAmount(label string) (*uint256.Int, bool) {
	amount, err := uint256.FromDecimal(t.prompt(label))
	if err != nil {
		fmt.Println("Invalid amount")
		return nil, false
	}
	return amount, true
}

func (t *teller) printErr(err error) {
	fmt.Printf("Error: %s\n", errMessage(err))
}

// parseTaxRate reads a whole-percent tax rate, falling back to the
// suggested default on blank input.
func parseTaxRate(raw string) (uint64, error) {
	if raw == "" {
		return config.DefaultTaxRate, nil
	}
	return strconv.ParseUint(raw, 10, 64)
}

// errMessage unwraps a ledger error into its human message for terminal
// display; anything else prints as-is.
func errMessage(err error) string {
	var le *errors.LedgerError
	if stderrors.As(err, &le) {
		return le.Message
	}
	return err.Error()
}
