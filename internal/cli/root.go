package cmd

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/crawlstack/crawlgraph/internal/build"
	"github.com/crawlstack/crawlgraph/internal/config"
	"github.com/crawlstack/crawlgraph/internal/fetcher"
	"github.com/crawlstack/crawlgraph/internal/metadata"
	"github.com/crawlstack/crawlgraph/internal/process"
	"github.com/crawlstack/crawlgraph/internal/robots"
	"github.com/crawlstack/crawlgraph/internal/store"
	"github.com/crawlstack/crawlgraph/internal/trap"
	"github.com/crawlstack/crawlgraph/internal/worker"
	"github.com/crawlstack/crawlgraph/pkg/fileutil"
	"github.com/spf13/cobra"
)

// defaultUserAgent is advertised by both fetchers unless overridden.
const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (AdvancedCrawler/1.0)"

var (
	cfgFile           string
	seedURLs          []string
	maxDepth          int
	concurrency       int
	outputDir         string
	dbPath            string
	dryRun            bool
	maxPages          int
	userAgent         string
	timeout           time.Duration
	baseDelay         time.Duration
	jitter            time.Duration
	randomSeed        int64
	allowedHosts      []string
	allowedPathPrefix []string
	useSelenium       bool
	disregardRobots   bool

	newHost      string
	updateHost   string
	continueScan bool
)

// parseStringSliceToSet converts a string slice to a map[string]struct{} set
func parseStringSliceToSet(strings []string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, s := range strings {
		if s != "" {
			set[s] = struct{}{}
		}
	}
	return set
}

// parseSeedURLs converts a string slice of URLs to []url.URL
func parseSeedURLs(urlStrings []string) ([]url.URL, error) {
	if len(urlStrings) == 0 {
		return nil, fmt.Errorf("seed URLs cannot be empty")
	}

	var urls []url.URL
	for _, urlStr := range urlStrings {
		parsedURL, err := url.Parse(urlStr)
		if err != nil {
			return nil, fmt.Errorf("error parsing seed URL %s: %w", urlStr, err)
		}
		urls = append(urls, *parsedURL)
	}
	return urls, nil
}

// ResolveMode inspects the --new/--update/--continue flags and returns the
// mode string plus the host that mode operates against. Exactly one of the
// three must be set; ResolveMode returns an error when none or more than one is.
func ResolveMode() (mode string, host string, err error) {
	set := 0
	if newHost != "" {
		set++
		mode, host = "new", newHost
	}
	if updateHost != "" {
		set++
		mode, host = "update", updateHost
	}
	if continueScan {
		set++
		mode, host = "continue", ""
	}
	if set == 0 {
		return "", "", fmt.Errorf("one of --new, --update, or --continue is required")
	}
	if set > 1 {
		return "", "", fmt.Errorf("--new, --update, and --continue are mutually exclusive")
	}
	return mode, host, nil
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:     "crawlgraph",
	Version: build.FullVersion(),
	Short:   "A persistent, polite web crawler that builds a page/link/resource graph.",
	Long: `crawlgraph crawls a site breadth-first, respecting robots.txt and a
per-host delay, and records every page, link, resource, and script event it
discovers into a relational store so the crawl can be resumed, updated, or
queried as a graph.`,
	Run: func(cmd *cobra.Command, args []string) {
		mode, host, err := ResolveMode()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %s\n", err)
			cmd.Usage()
			os.Exit(1)
		}

		var parsedURLs []url.URL
		if mode == "new" {
			parsedURLs, err = parseSeedURLs([]string{host})
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %s\n", err)
				os.Exit(1)
			}
		} else if len(seedURLs) > 0 {
			parsedURLs, err = parseSeedURLs(seedURLs)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %s\n", err)
				os.Exit(1)
			}
		} else {
			// continue/update modes may run without a seed URL on record;
			// give Build() something syntactically valid to hold onto.
			parsedURLs = []url.URL{{Scheme: "https", Host: "localhost"}}
		}

		cfg := InitConfig(parsedURLs)

		fmt.Printf("Mode: %s\n", mode)
		if len(cfg.SeedURLs()) > 0 {
			var urls []string
			for _, u := range cfg.SeedURLs() {
				urls = append(urls, u.String())
			}
			fmt.Printf("Seed URLs: %s\n", strings.Join(urls, ", "))
		}
		if len(cfg.AllowedHosts()) > 0 {
			var hosts []string
			for host := range cfg.AllowedHosts() {
				hosts = append(hosts, host)
			}
			fmt.Printf("Allowed Hosts: %s\n", strings.Join(hosts, ", "))
		}
		fmt.Printf("Max Depth: %d\n", cfg.MaxDepth())
		fmt.Printf("Max Pages: %d\n", cfg.MaxPages())
		fmt.Printf("Workers: %d\n", cfg.Concurrency())
		fmt.Printf("Base Delay: %v\n", cfg.BaseDelay())
		fmt.Printf("Use Selenium: %t\n", cfg.UseSelenium())
		fmt.Printf("Disregard Robots: %t\n", cfg.DisregardRobots())
		fmt.Printf("Database: %s\n", cfg.DbPath())
		fmt.Printf("Dry Run: %t\n", cfg.DryRun())

		if cfg.DryRun() {
			return
		}

		seed := url.URL{}
		if len(parsedURLs) > 0 {
			seed = parsedURLs[0]
		}
		if err := runCrawl(cfg, mode, host, seed); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %s\n", err)
			os.Exit(1)
		}
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path (e.g., /home/myuser/config.json)")
	rootCmd.PersistentFlags().StringArrayVar(&seedURLs, "seed-url", []string{}, "one or more starting URLs (can be repeated)")
	rootCmd.PersistentFlags().StringVar(&newHost, "new", "", "start a fresh scan from this seed URL, purging any existing pages for its host")
	rootCmd.PersistentFlags().StringVar(&updateHost, "update", "", "re-crawl an already-known host from scratch, keeping discovered pages")
	rootCmd.PersistentFlags().BoolVar(&continueScan, "continue", false, "resume an interrupted crawl, draining whatever is not yet crawled")
	rootCmd.PersistentFlags().IntVar(&maxDepth, "max-depth", 3, "maximum link depth from seed URL")
	rootCmd.PersistentFlags().IntVar(&concurrency, "workers", 4, "number of concurrent fetch workers")
	rootCmd.PersistentFlags().StringVar(&outputDir, "output-dir", "output", "root output directory for crawl artifacts")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "crawlgraph.db", "path to the sqlite database file")
	rootCmd.PersistentFlags().BoolVar(&dryRun, "dry-run", false, "crawl without writing output")
	rootCmd.PersistentFlags().IntVar(&maxPages, "max-pages", 0, "maximum number of pages to fetch (0 for unlimited)")
	rootCmd.PersistentFlags().StringVar(&userAgent, "user-agent", defaultUserAgent, "user agent string for HTTP requests")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 0, "timeout for HTTP requests")
	rootCmd.PersistentFlags().DurationVar(&baseDelay, "delay", time.Second, "base delay between HTTP requests to the same host")
	rootCmd.PersistentFlags().DurationVar(&jitter, "jitter", 0, "random jitter added to base delay")
	rootCmd.PersistentFlags().Int64Var(&randomSeed, "random-seed", 0, "seed for random number generation (0 for current time)")
	rootCmd.PersistentFlags().StringArrayVar(&allowedHosts, "allowed-host", []string{}, "explicit hostname allowlist (defaults to seed host)")
	rootCmd.PersistentFlags().StringArrayVar(&allowedPathPrefix, "allowed-path-prefix", []string{}, "restrict crawl to paths like `/docs`, `/guide`")
	rootCmd.PersistentFlags().BoolVar(&useSelenium, "use-selenium", false, "fetch with a headless browser instead of a static HTTP client")
	rootCmd.PersistentFlags().BoolVar(&disregardRobots, "disregard-robots", false, "skip the robots.txt allow/disallow and crawl-delay check")
}

// InitConfig reads in config file and ENV variables if set.
// seedUrls is a mandatory parameter and must contain at least one valid URL.
func InitConfig(seedUrls []url.URL) config.Config {
	cfg, err := InitConfigWithError(seedUrls)
	if err != nil {
		fmt.Printf("Error: %s\n", err)
		os.Exit(1)
	}
	return cfg
}

// InitConfigWithError reads in config file and ENV variables if set, returning any errors.
// seedUrls is a mandatory parameter and must contain at least one valid URL.
// This makes it easier to test error cases.
func InitConfigWithError(seedUrls []url.URL) (config.Config, error) {
	if len(seedUrls) == 0 {
		return config.Config{}, fmt.Errorf("%w: seedUrls cannot be empty", config.ErrInvalidConfig)
	}

	if cfgFile != "" {
		fmt.Printf("Initializing config from file: %s\n", cfgFile)
		cfg, err := config.WithConfigFile(cfgFile)
		if err != nil {
			return cfg, fmt.Errorf("error initializing config from file: %w", err)
		}
		return cfg, nil
	}

	// Build config from CLI flags using the With... functions with method chaining
	fmt.Println("No config file specified. Using default flag values or environment variables")

	// Start with default config using provided seed URLs and apply overrides using method chaining
	configBuilder := config.WithDefault(seedUrls)

	// Override with CLI flag values where provided
	if maxDepth > 0 {
		configBuilder = configBuilder.WithMaxDepth(maxDepth)
	}

	if concurrency > 0 {
		configBuilder = configBuilder.WithConcurrency(concurrency)
	}

	if outputDir != "" && outputDir != "output" {
		configBuilder = configBuilder.WithOutputDir(outputDir)
	}

	if dbPath != "" && dbPath != "crawlgraph.db" {
		configBuilder = configBuilder.WithDbPath(dbPath)
	}

	if dryRun {
		configBuilder = configBuilder.WithDryRun(dryRun)
	}

	if maxPages > 0 {
		configBuilder = configBuilder.WithMaxPages(maxPages)
	}

	if userAgent != "" {
		configBuilder = configBuilder.WithUserAgent(userAgent)
	}

	if timeout > 0 {
		configBuilder = configBuilder.WithTimeout(timeout)
	}

	if baseDelay > 0 {
		configBuilder = configBuilder.WithBaseDelay(baseDelay)
	}

	if jitter > 0 {
		configBuilder = configBuilder.WithJitter(jitter)
	}

	if randomSeed != 0 {
		configBuilder = configBuilder.WithRandomSeed(randomSeed)
	}

	if len(allowedHosts) > 0 {
		configBuilder = configBuilder.WithAllowedHosts(parseStringSliceToSet(allowedHosts))
	}

	if len(allowedPathPrefix) > 0 {
		configBuilder = configBuilder.WithAllowedPathPrefix(allowedPathPrefix)
	}

	if useSelenium {
		configBuilder = configBuilder.WithUseSelenium(useSelenium)
	}

	if disregardRobots {
		configBuilder = configBuilder.WithDisregardRobots(disregardRobots)
	}

	cfg, err := configBuilder.Build()
	if err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func ResetFlags() {
	cfgFile = ""
	seedURLs = []string{}
	maxDepth = 0
	concurrency = 0
	outputDir = ""
	dbPath = ""
	dryRun = false
	maxPages = 0
	userAgent = ""
	timeout = 0
	baseDelay = 0
	jitter = 0
	randomSeed = 0
	allowedHosts = []string{}
	allowedPathPrefix = []string{}
	useSelenium = false
	disregardRobots = false
	newHost = ""
	updateHost = ""
	continueScan = false
}

// Test helper functions to set flag values from tests
func SetConfigFileForTest(path string) {
	cfgFile = path
}

func SetSeedURLsForTest(urls []string) {
	seedURLs = urls
}

func SetMaxDepthForTest(depth int) {
	maxDepth = depth
}

func SetConcurrencyForTest(conc int) {
	concurrency = conc
}

func SetOutputDirForTest(dir string) {
	outputDir = dir
}

func SetDbPathForTest(path string) {
	dbPath = path
}

func SetDryRunForTest(dry bool) {
	dryRun = dry
}

func SetMaxPagesForTest(pages int) {
	maxPages = pages
}

func SetUserAgentForTest(agent string) {
	userAgent = agent
}

func SetTimeoutForTest(t time.Duration) {
	timeout = t
}

func SetBaseDelayForTest(delay time.Duration) {
	baseDelay = delay
}

func SetJitterForTest(j time.Duration) {
	jitter = j
}

func SetRandomSeedForTest(seed int64) {
	randomSeed = seed
}

func SetAllowedHostsForTest(hosts []string) {
	allowedHosts = hosts
}

func SetAllowedPathPrefixForTest(prefixes []string) {
	allowedPathPrefix = prefixes
}

func SetUseSeleniumForTest(v bool) {
	useSelenium = v
}

func SetDisregardRobotsForTest(v bool) {
	disregardRobots = v
}

func SetModeForTest(newSeed, updateHostArg string, cont bool) {
	newHost = newSeed
	updateHost = updateHostArg
	continueScan = cont
}

// StdinConfirmer asks on stdout/stdin before a new-scan purge of existing
// pages, isolating the one interactive prompt the engine itself never
// makes so internal/worker stays headless and testable.
type StdinConfirmer struct{}

func (StdinConfirmer) ConfirmPurge(host string, existingPages int) bool {
	fmt.Printf("%s already has %d recorded pages. Purge and start over? [y/N] ", host, existingPages)
	reader := bufio.NewReader(os.Stdin)
	answer, _ := reader.ReadString('\n')
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes"
}

// runCrawl wires the store, metadata sink, robots cache, fetcher, and
// processor together into a worker.Pool and runs it to completion or
// until SIGINT/SIGTERM requests a graceful shutdown.
func runCrawl(cfg config.Config, mode, host string, seed url.URL) error {
	if dir := filepath.Dir(cfg.DbPath()); dir != "." {
		if ensureErr := fileutil.EnsureDir(dir); ensureErr != nil {
			return fmt.Errorf("create database directory: %w", ensureErr)
		}
	}

	s, err := store.Open(cfg.DbPath())
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer s.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := s.Ensure(ctx); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}

	sink := metadata.NewRecorder(slog.Default())

	var f fetcher.Fetcher
	if cfg.UseSelenium() {
		browser := fetcher.NewBrowserFetcher(sink)
		defer browser.Close()
		f = browser
	} else {
		html := fetcher.NewHtmlFetcher(sink)
		f = &html
	}
	f.Init(&http.Client{Timeout: cfg.Timeout()}, cfg.UserAgent())

	var robotsChecker *robots.CachedRobot
	if !cfg.DisregardRobots() {
		rb := robots.NewCachedRobot(sink)
		rb.Init(cfg.UserAgent())
		robotsChecker = &rb
	}

	processor := process.NewProcessor(sink, trap.NewDetector(10, 3, 5))
	sitemapParser := worker.NewHTTPSitemapParser()

	var workerMode worker.Mode
	switch mode {
	case "new":
		workerMode = worker.ModeNew
	case "update":
		workerMode = worker.ModeUpdate
	default:
		workerMode = worker.ModeContinue
	}

	pool := worker.NewPool(
		s, f, processor, robotsChecker, sitemapParser, StdinConfirmer{},
		cfg, cfg.Concurrency(), cfg.BaseDelay(), cfg.DisregardRobots(),
	)

	return pool.Start(ctx, workerMode, seed, host)
}
