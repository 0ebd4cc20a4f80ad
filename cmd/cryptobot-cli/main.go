package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"cryptobot/internal/config"
	"cryptobot/internal/domain"
	"cryptobot/internal/engine"
	"cryptobot/pkg/cryptobot"
)

const version = "0.1.0"

var (
	configPath string
	serverURL  string
	jsonOut    bool
)

func main() {
	app := cli.NewApp()
	app.Name = "cryptobot-cli"
	app.Version = version
	app.Usage = "run and inspect crypto strategy backtests"
	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:        "config",
			Value:       config.DefaultPath(),
			Usage:       "path to the YAML configuration",
			Destination: &configPath,
		},
		&cli.StringFlag{
			Name:        "server",
			Usage:       "cryptobot-server base URL; commands run in-process when empty",
			EnvVars:     []string{"CRYPTOBOT_SERVER"},
			Destination: &serverURL,
		},
		&cli.BoolFlag{
			Name:        "json",
			Usage:       "print JSON instead of tables",
			Destination: &jsonOut,
		},
	}
	app.Commands = []*cli.Command{
		versionCommand,
		strategiesCommand,
		runCommand,
		batchCommand,
		runsCommand,
		exportCommand,
		chartCommand,
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := app.RunContext(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}

func openBackend() (backend, error) {
	if serverURL != "" {
		return &remoteBackend{client: cryptobot.NewClient(serverURL)}, nil
	}
	// Logs go to stderr so command output stays parseable.
	return newLocalBackend(configPath, os.Stderr)
}

func withBackend(fn func(c *cli.Context, b backend) error) cli.ActionFunc {
	return func(c *cli.Context) error {
		b, err := openBackend()
		if err != nil {
			return err
		}
		defer b.Close()
		return fn(c, b)
	}
}

func jsonOutput(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// ---------------------------------------------------------------------------
// Commands
// ---------------------------------------------------------------------------

var versionCommand = &cli.Command{
	Name:  "version",
	Usage: "print the CLI version",
	Action: func(c *cli.Context) error {
		fmt.Fprintf(c.App.Writer, "cryptobot-cli %s\n", version)
		return nil
	},
}

var strategiesCommand = &cli.Command{
	Name:  "strategies",
	Usage: "list the available strategy kinds and their default parameters",
	Action: withBackend(func(c *cli.Context, b backend) error {
		list, err := b.Strategies(c.Context)
		if err != nil {
			return err
		}
		if jsonOut {
			return jsonOutput(c.App.Writer, list)
		}
		tw := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "KIND\tDEFAULTS\tDESCRIPTION")
		for _, d := range list {
			fmt.Fprintf(tw, "%s\t%s\t%s\n", d.Kind, formatParams(d.Defaults), d.Description)
		}
		return tw.Flush()
	}),
}

var requestFlags = []cli.Flag{
	&cli.StringFlag{Name: "symbol", Value: "BTCUSDT", Usage: "trading pair, e.g. BTCUSDT or BTC/USDT"},
	&cli.StringFlag{Name: "timeframe", Aliases: []string{"tf"}, Value: "1h", Usage: "candle timeframe (1m ... 1w)"},
	&cli.StringFlag{Name: "start", Usage: "range start, YYYY-MM-DD or RFC3339 (default: 30 days before end)"},
	&cli.StringFlag{Name: "end", Usage: "range end, YYYY-MM-DD or RFC3339 (default: now)"},
	&cli.StringFlag{Name: "strategy", Value: "dca", Usage: "strategy kind"},
	&cli.StringSliceFlag{Name: "param", Aliases: []string{"p"}, Usage: "strategy parameter as name=value; repeatable"},
	&cli.Float64Flag{Name: "balance", Usage: "initial quote balance (default from config)"},
	&cli.Float64Flag{Name: "fee", Usage: "fee rate per side, e.g. 0.001 (default from config)"},
	&cli.Float64Flag{Name: "stop-loss", Usage: "close when price falls this fraction below entry; 0 disables"},
	&cli.Float64Flag{Name: "take-profit", Usage: "close when price rises this fraction above entry; 0 disables"},
	&cli.BoolFlag{Name: "synthetic", Usage: "fall back to synthetic candles if market data cannot be loaded"},
}

var runCommand = &cli.Command{
	Name:  "run",
	Usage: "run one backtest",
	Flags: requestFlags,
	Action: withBackend(func(c *cli.Context, b backend) error {
		req, err := requestFromFlags(c, time.Now().UTC())
		if err != nil {
			return err
		}
		run, err := b.Run(c.Context, req)
		if err != nil {
			return err
		}
		if jsonOut {
			return jsonOutput(c.App.Writer, run)
		}
		printRun(c.App.Writer, run)
		return nil
	}),
}

var batchCommand = &cli.Command{
	Name:      "batch",
	Usage:     "run the backtests listed in a YAML file concurrently",
	ArgsUsage: "<file.yaml>",
	Action: withBackend(func(c *cli.Context, b backend) error {
		if c.NArg() != 1 {
			return errors.New("batch: expected exactly one file argument")
		}
		reqs, err := loadBatchFile(c.Args().First())
		if err != nil {
			return err
		}
		results, err := b.RunBatch(c.Context, reqs)
		if err != nil {
			return err
		}
		if jsonOut {
			return jsonOutput(c.App.Writer, results)
		}
		tw := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "#\tSYMBOL\tSTRATEGY\tTRADES\tNET PROFIT\tWIN %\tMAX DD %\tID / ERROR")
		failed := 0
		for _, r := range results {
			if r.Run == nil {
				failed++
				fmt.Fprintf(tw, "%d\t%s\t%s\t-\t-\t-\t-\t%s\n", r.Index, r.Request.Symbol, r.Request.Strategy.Kind, r.Error)
				continue
			}
			m := r.Run.Metrics
			fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%.2f\t%.1f\t%.2f\t%s\n",
				r.Index, r.Run.Symbol, r.Run.Strategy.Kind, m.TotalTrades, m.NetProfit, m.WinRate, m.MaxDrawdown, r.Run.ID)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
		p := engine.Summarize(results)
		fmt.Fprintf(c.App.Writer, "\nTotal: %d runs, %.2f -> %.2f (%+.2f%%)\n",
			p.Runs, p.InitialBalance, p.FinalBalance, p.ReturnPct)
		if failed > 0 {
			return cli.Exit(fmt.Sprintf("%d of %d backtests failed", failed, len(results)), 1)
		}
		return nil
	}),
}

var runsCommand = &cli.Command{
	Name:  "runs",
	Usage: "list stored backtest runs, newest first",
	Flags: []cli.Flag{
		&cli.IntFlag{Name: "limit", Value: 20, Usage: "maximum number of runs"},
	},
	Action: withBackend(func(c *cli.Context, b backend) error {
		runs, err := b.ListRuns(c.Context, c.Int("limit"))
		if err != nil {
			return err
		}
		if jsonOut {
			return jsonOutput(c.App.Writer, runs)
		}
		tw := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tCREATED\tSYMBOL\tTF\tSTRATEGY\tDATA\tTRADES\tNET PROFIT")
		for _, r := range runs {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%d\t%.2f\n",
				r.ID, r.CreatedAt.Format(time.DateTime), r.Symbol, r.Timeframe, r.Strategy.Kind,
				r.DataKind, r.Metrics.TotalTrades, r.Metrics.NetProfit)
		}
		return tw.Flush()
	}),
}

var exportFlags = []cli.Flag{
	&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "output file (default: stdout)"},
}

var exportCommand = &cli.Command{
	Name:      "export",
	Usage:     "write the trades of a run as CSV",
	ArgsUsage: "<run-id>",
	Flags:     exportFlags,
	Action:    withBackend(exportAction(false)),
}

var chartCommand = &cli.Command{
	Name:      "chart",
	Usage:     "render the equity curve of a run as PNG",
	ArgsUsage: "<run-id>",
	Flags:     exportFlags,
	Action:    withBackend(exportAction(true)),
}

func exportAction(chart bool) func(c *cli.Context, b backend) error {
	return func(c *cli.Context, b backend) error {
		if c.NArg() != 1 {
			return errors.New("expected exactly one run id")
		}
		run, err := b.GetRun(c.Context, c.Args().First())
		if err != nil {
			return err
		}

		out := c.String("out")
		if out == "" {
			if chart {
				return errors.New("chart: --out is required for PNG output")
			}
			return writeExport(c.App.Writer, run, false)
		}
		f, err := os.Create(out)
		if err != nil {
			return err
		}
		if err := writeExport(f, run, chart); err != nil {
			f.Close()
			return err
		}
		return f.Close()
	}
}

// ---------------------------------------------------------------------------
// Request parsing
// ---------------------------------------------------------------------------

// parseTime accepts YYYY-MM-DD or RFC3339.
func parseTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: invalid time %q, want YYYY-MM-DD or RFC3339", domain.ErrInvalidConfiguration, s)
	}
	return t, nil
}

func parseParams(pairs []string) (map[string]float64, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	params := make(map[string]float64, len(pairs))
	for _, p := range pairs {
		name, value, ok := strings.Cut(p, "=")
		if !ok {
			return nil, fmt.Errorf("%w: parameter %q is not name=value", domain.ErrInvalidConfiguration, p)
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: parameter %q: %v", domain.ErrInvalidConfiguration, name, err)
		}
		params[strings.TrimSpace(name)] = v
	}
	return params, nil
}

func requestFromFlags(c *cli.Context, now time.Time) (engine.Request, error) {
	end := now
	if s := c.String("end"); s != "" {
		t, err := parseTime(s)
		if err != nil {
			return engine.Request{}, err
		}
		end = t
	}
	start := end.AddDate(0, 0, -30)
	if s := c.String("start"); s != "" {
		t, err := parseTime(s)
		if err != nil {
			return engine.Request{}, err
		}
		start = t
	}
	params, err := parseParams(c.StringSlice("param"))
	if err != nil {
		return engine.Request{}, err
	}

	req := engine.Request{
		Symbol:         c.String("symbol"),
		Timeframe:      c.String("timeframe"),
		Start:          start,
		End:            end,
		Strategy:       domain.StrategySpec{Kind: c.String("strategy"), Params: params},
		InitialBalance: c.Float64("balance"),
		StopLoss:       c.Float64("stop-loss"),
		TakeProfit:     c.Float64("take-profit"),
		AllowSynthetic: c.Bool("synthetic"),
	}
	if c.IsSet("fee") {
		fee := c.Float64("fee")
		req.FeeRate = &fee
	}
	return req, nil
}

// batchEntry is one request of a batch file.
type batchEntry struct {
	Symbol         string             `yaml:"symbol"`
	Timeframe      string             `yaml:"timeframe"`
	Start          string             `yaml:"start"`
	End            string             `yaml:"end"`
	Strategy       string             `yaml:"strategy"`
	Params         map[string]float64 `yaml:"params"`
	InitialBalance float64            `yaml:"initial_balance"`
	FeeRate        *float64           `yaml:"fee_rate"`
	StopLoss       float64            `yaml:"stop_loss"`
	TakeProfit     float64            `yaml:"take_profit"`
	AllowSynthetic bool               `yaml:"allow_synthetic"`
	Weight         float64            `yaml:"weight"`
}

// batchFile is the layout of a batch YAML file. Defaults fill the fields
// an entry leaves empty. A positive Capital is split across the runs by
// their weights and overrides their initial balances.
type batchFile struct {
	Capital  float64      `yaml:"capital"`
	Defaults batchEntry   `yaml:"defaults"`
	Runs     []batchEntry `yaml:"runs"`
}

func loadBatchFile(path string) ([]engine.Request, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return parseBatch(data)
}

func parseBatch(data []byte) ([]engine.Request, error) {
	var f batchFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing batch file: %w", err)
	}
	if len(f.Runs) == 0 {
		return nil, fmt.Errorf("%w: batch file lists no runs", domain.ErrInvalidConfiguration)
	}

	reqs := make([]engine.Request, 0, len(f.Runs))
	allocs := make([]engine.Allocation, 0, len(f.Runs))
	for i, e := range f.Runs {
		e = e.withDefaults(f.Defaults)
		start, err := parseTime(e.Start)
		if err != nil {
			return nil, fmt.Errorf("run %d: %w", i, err)
		}
		end, err := parseTime(e.End)
		if err != nil {
			return nil, fmt.Errorf("run %d: %w", i, err)
		}
		req := engine.Request{
			Symbol:         e.Symbol,
			Timeframe:      e.Timeframe,
			Start:          start,
			End:            end,
			Strategy:       domain.StrategySpec{Kind: e.Strategy, Params: e.Params},
			InitialBalance: e.InitialBalance,
			FeeRate:        e.FeeRate,
			StopLoss:       e.StopLoss,
			TakeProfit:     e.TakeProfit,
			AllowSynthetic: e.AllowSynthetic,
		}
		reqs = append(reqs, req)
		allocs = append(allocs, engine.Allocation{Request: req, Weight: e.Weight})
	}
	if f.Capital == 0 {
		return reqs, nil
	}
	reqs, err := engine.SplitCapital(f.Capital, allocs)
	if err != nil {
		return nil, fmt.Errorf("splitting capital: %w", err)
	}
	return reqs, nil
}

func (e batchEntry) withDefaults(d batchEntry) batchEntry {
	if e.Symbol == "" {
		e.Symbol = d.Symbol
	}
	if e.Timeframe == "" {
		e.Timeframe = d.Timeframe
	}
	if e.Start == "" {
		e.Start = d.Start
	}
	if e.End == "" {
		e.End = d.End
	}
	if e.Strategy == "" {
		e.Strategy = d.Strategy
	}
	if e.Params == nil {
		e.Params = d.Params
	}
	if e.InitialBalance == 0 {
		e.InitialBalance = d.InitialBalance
	}
	if e.FeeRate == nil {
		e.FeeRate = d.FeeRate
	}
	if e.StopLoss == 0 {
		e.StopLoss = d.StopLoss
	}
	if e.TakeProfit == 0 {
		e.TakeProfit = d.TakeProfit
	}
	if e.Weight == 0 {
		e.Weight = d.Weight
	}
	e.AllowSynthetic = e.AllowSynthetic || d.AllowSynthetic
	return e
}

// ---------------------------------------------------------------------------
// Output
// ---------------------------------------------------------------------------

func formatParams(params map[string]float64) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%g", k, params[k]))
	}
	return strings.Join(parts, " ")
}

func printRun(w io.Writer, run *domain.BacktestRun) {
	m := run.Metrics
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "Run\t%s\n", run.ID)
	fmt.Fprintf(tw, "Symbol\t%s %s\n", run.Symbol, run.Timeframe)
	fmt.Fprintf(tw, "Strategy\t%s %s\n", run.Strategy.Kind, formatParams(run.Strategy.Params))
	fmt.Fprintf(tw, "Range\t%s .. %s (%d candles)\n",
		run.Start.Format(time.RFC3339), run.End.Format(time.RFC3339), run.CandleCount)
	if run.Synthetic {
		fmt.Fprintf(tw, "Data\tSYNTHETIC (market data unavailable; results are for demonstration only)\n")
	}
	fmt.Fprintf(tw, "Settings\tfee %g, size %g, window %d, stop %g, take %g\n", run.FeeRate,
		run.Settings.PositionSizeFraction, run.Settings.HistoryWindow, run.Settings.StopLoss, run.Settings.TakeProfit)
	fmt.Fprintf(tw, "Balance\t%.2f -> %.2f\n", run.InitialBalance, run.FinalBalance)
	fmt.Fprintf(tw, "Net profit\t%.2f\n", m.NetProfit)
	fmt.Fprintf(tw, "Trades\t%d (%d won, %d lost, win rate %.1f%%)\n", m.TotalTrades, m.WinningTrades, m.LosingTrades, m.WinRate)
	fmt.Fprintf(tw, "Profit factor\t%.2f\n", m.ProfitFactor)
	fmt.Fprintf(tw, "Max drawdown\t%.2f%% cash, %.2f%% equity\n", m.MaxDrawdown, run.MaxEquityDrawdown)
	fmt.Fprintf(tw, "Sharpe\t%.2f\n", m.SharpeRatio)
	fmt.Fprintf(tw, "Signals\t%d buy, %d sell, %d hold\n", run.Signals.Buy, run.Signals.Sell, run.Signals.Hold)
	_ = tw.Flush()
}
