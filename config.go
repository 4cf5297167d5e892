package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/abesuite/airdrop-ledger/balancecache"
	"github.com/abesuite/airdrop-ledger/constdef"
	"github.com/abesuite/airdrop-ledger/dal"
	"github.com/abesuite/airdrop-ledger/utils"

	flags "github.com/jessevdk/go-flags"
)

const (
	defaultConfigFilename = "airdrop-ledger.conf"
	defaultLogDirname     = "logs"
	defaultLogFilename    = "airdrop-ledger.log"
	defaultDbType         = dal.DBTypeMySQL
	sampleConfigFilename  = "sample-airdrop-ledger.conf"
	defaultLogLevel       = "info"
	defaultDbAddress      = "127.0.0.1:3306"
	defaultDatabaseName   = "airdrop_ledger"
	defaultCacheType      = balancecache.CacheTypeLRU
	defaultAuditInterval  = 10 * time.Minute
)

var (
	defaultHomeDir    = utils.AppDataDir("airdrop-ledger", false)
	defaultConfigFile = filepath.Join(defaultHomeDir, defaultConfigFilename)
	defaultLogDir     = filepath.Join(defaultHomeDir, defaultLogDirname)
	knownDbTypes      = []string{dal.DBTypeMySQL, dal.DBTypePostgres, dal.DBTypeSQLite}
	knownCacheTypes   = []string{balancecache.CacheTypeLRU, balancecache.CacheTypeFastCache}
)

// config defines the configuration options for the airdrop ledger.
//
// See loadConfig for details on the configuration load process.
type config struct {
	AppDataDir          *utils.ExplicitString `short:"A" long:"appdata" description:"Application data directory for config and logs"`
	ConfigFile          string                `short:"C" long:"configfile" description:"Path to configuration file"`
	DebugLevel          string                `short:"d" long:"debuglevel" description:"Logging level for all subsystems {trace, debug, info, warn, error, critical} -- You may also specify <subsystem>=<level>,<subsystem2>=<level>,... to set the log level for individual subsystems -- Use show to list available subsystems"`
	LogDir              string                `long:"logdir" description:"Directory to log output."`
	DbType              string                `long:"dbtype" description:"Database backend to use for the ledger {mysql, postgres, sqlite}"`
	DbUsername          string                `long:"dbusername" description:"username which is used to connect with database"`
	DbPassword          string                `long:"dbpassword" default-mask:"-" description:"password which is used to connect with database"`
	DbAddress           string                `long:"dbaddress" description:"ip address and port of database (default: 127.0.0.1:3306)"`
	DbName              string                `long:"dbname" description:"name of ledger database, or the database file for sqlite (default: airdrop_ledger)"`
	DisableAutoCreateDB bool                  `long:"noautocreatedb" description:"Disable creating database and table automatically"`

	Chain        string `long:"chain" description:"Chain identity used in balance cache keys"`
	Token        string `long:"token" description:"Token the pay operations are denominated in"`
	AirdropToken string `long:"airdroptoken" description:"Token identity of the airdrop balance"`
	AirdropID    string `long:"airdropid" description:"Airdrop program served by the ledger balance authority"`
	MaxBatchSize int    `long:"maxbatchsize" description:"Max number of users in one batch allocation (default: 500)"`

	CacheType      string  `long:"cachetype" description:"Balance cache backend {lru, fastcache}"`
	CacheSize      int     `long:"cachesize" description:"Max number of cached balances for the lru backend"`
	CacheMaxBytes  int     `long:"cachemaxbytes" description:"Max bytes of cached balances for the fastcache backend"`
	AuthorityRPS   float64 `long:"authorityrps" description:"Max balance authority reads per second on cache misses, 0 for unlimited"`
	AuthorityBurst int     `long:"authorityburst" description:"Burst of balance authority reads on cache misses"`

	AuditInterval time.Duration `long:"auditinterval" description:"Interval between ledger audits, 0 to disable (default: 10m)"`
	MetricsListen string        `long:"metricslisten" description:"Interface/port to serve prometheus metrics and the last audit report on, empty to disable"`
	ProfilePort   string        `long:"profileport" description:"Enable HTTP profiling on given port -- NOTE port must be between 1024 and 65536"`
	ShowVersion   bool          `short:"V" long:"version" description:"Display version information and exit"`
}

// newConfigParser returns a new command line flags parser.
func newConfigParser(cfg *config, options flags.Options) *flags.Parser {
	parser := flags.NewParser(cfg, options)
	return parser
}

// createDefaultConfigFile copies the sample config file next to the binary to
// the given destination path.
func createDefaultConfigFile(destinationPath string) error {
	// Create the destination directory if it does not exists
	err := os.MkdirAll(filepath.Dir(destinationPath), 0700)
	if err != nil {
		return err
	}

	// We assume sample config file path is same as binary
	path, err := filepath.Abs(filepath.Dir(os.Args[0]))
	if err != nil {
		return err
	}
	sampleConfigPath := filepath.Join(path, sampleConfigFilename)

	src, err := os.Open(sampleConfigPath)
	if err != nil {
		return err
	}
	defer src.Close()

	dest, err := os.OpenFile(destinationPath,
		os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	defer dest.Close()

	// Copy every line, leaving the database password unset.
	reader := bufio.NewReader(src)
	for err != io.EOF {
		var line string
		line, err = reader.ReadString('\n')
		if err != nil && err != io.EOF {
			return err
		}

		if strings.HasPrefix(strings.TrimSpace(line), "dbpassword=") {
			line = "; dbpassword=\n"
		}

		if _, err := dest.WriteString(line); err != nil {
			return err
		}
	}

	return nil
}

// cleanAndExpandPath expands environment variables and leading ~ in the
// passed path, cleans the result, and returns it.
func cleanAndExpandPath(path string) string {
	// Expand initial ~ to OS specific home directory.
	if strings.HasPrefix(path, "~") {
		homeDir := filepath.Dir(defaultHomeDir)
		path = strings.Replace(path, "~", homeDir, 1)
	}

	// NOTE: The os.ExpandEnv doesn't work with Windows-style %VARIABLE%,
	// but the variables can still be expanded via POSIX-style $VARIABLE.
	return filepath.Clean(os.ExpandEnv(path))
}

// supportedSubsystems returns a sorted slice of the supported subsystems for
// logging purposes.
func supportedSubsystems() []string {
	// Convert the subsystemLoggers map keys to a slice.
	subsystems := make([]string, 0, len(subsystemLoggers))
	for subsysID := range subsystemLoggers {
		subsystems = append(subsystems, subsysID)
	}

	// Sort the subsystems for stable display.
	sort.Strings(subsystems)
	return subsystems
}

// validLogLevel returns whether or not logLevel is a valid debug log level.
func validLogLevel(logLevel string) bool {
	switch logLevel {
	case "trace":
		fallthrough
	case "debug":
		fallthrough
	case "info":
		fallthrough
	case "warn":
		fallthrough
	case "error":
		fallthrough
	case "critical":
		return true
	}
	return false
}

func validDbType(dbType string) bool {
	for _, knownType := range knownDbTypes {
		if dbType == knownType {
			return true
		}
	}

	return false
}

func validCacheType(cacheType string) bool {
	for _, knownType := range knownCacheTypes {
		if cacheType == knownType {
			return true
		}
	}

	return false
}

// parseAndSetDebugLevels attempts to parse the specified debug level and set
// the levels accordingly.  An appropriate error is returned if anything is
// invalid.
func parseAndSetDebugLevels(debugLevel string) error {
	// When the specified string doesn't have any delimters, treat it as
	// the log level for all subsystems.
	if !strings.Contains(debugLevel, ",") && !strings.Contains(debugLevel, "=") {
		// Validate debug log level.
		if !validLogLevel(debugLevel) {
			str := "The specified debug level [%v] is invalid"
			return fmt.Errorf(str, debugLevel)
		}

		// Change the logging level for all subsystems.
		setLogLevels(debugLevel)

		return nil
	}

	// Split the specified string into subsystem/level pairs while detecting
	// issues and update the log levels accordingly.
	for _, logLevelPair := range strings.Split(debugLevel, ",") {
		if !strings.Contains(logLevelPair, "=") {
			str := "The specified debug level contains an invalid " +
				"subsystem/level pair [%v]"
			return fmt.Errorf(str, logLevelPair)
		}

		// Extract the specified subsystem and log level.
		fields := strings.Split(logLevelPair, "=")
		subsysID, logLevel := fields[0], fields[1]

		// Validate subsystem.
		if _, exists := subsystemLoggers[subsysID]; !exists {
			str := "The specified subsystem [%v] is invalid -- " +
				"supported subsytems %v"
			return fmt.Errorf(str, subsysID, supportedSubsystems())
		}

		// Validate log level.
		if !validLogLevel(logLevel) {
			str := "The specified debug level [%v] is invalid"
			return fmt.Errorf(str, logLevel)
		}

		setLogLevel(subsysID, logLevel)
	}

	return nil
}

// loadConfig initializes and parses the config using a config file and command
// line options.
//
// The configuration proceeds as follows:
//  1. Start with a default config with sane settings
//  2. Pre-parse the command line to check for an alternative config file
//  3. Load configuration file overwriting defaults with any specified options
//  4. Parse CLI options and overwrite/add any specified options
//
// The above results in the ledger functioning properly without any config
// settings while still allowing the user to override settings with config
// files and command line options.  Command line options always take
// precedence.
func loadConfig() (*config, []string, error) {
	cfg := config{
		ConfigFile:     defaultConfigFile,
		AppDataDir:     utils.NewExplicitString(defaultHomeDir),
		DebugLevel:     defaultLogLevel,
		LogDir:         defaultLogDir,
		DbType:         defaultDbType,
		DbName:         defaultDatabaseName,
		MaxBatchSize:   constdef.DefaultMaxBatchSize,
		CacheType:      defaultCacheType,
		CacheSize:      constdef.DefaultLRUCacheEntries,
		CacheMaxBytes:  constdef.DefaultFastCacheMaxBytes,
		AuthorityRPS:   constdef.DefaultAuthorityRPS,
		AuthorityBurst: constdef.DefaultAuthorityBurst,
		AuditInterval:  defaultAuditInterval,
	}

	// Pre-parse the command line options to see if an alternative config
	// file or the version flag was specified.  Any errors aside from the
	// help message error can be ignored here since they will be caught by
	// the final parse below.
	preCfg := cfg
	preParser := newConfigParser(&preCfg, flags.HelpFlag)
	_, err := preParser.Parse()
	if err != nil {
		if e, ok := err.(*flags.Error); ok && e.Type == flags.ErrHelp {
			fmt.Fprintln(os.Stderr, err)
			return nil, nil, err
		}
	}

	// Show the version and exit if the version flag was specified.
	appName := filepath.Base(os.Args[0])
	appName = strings.TrimSuffix(appName, filepath.Ext(appName))
	usageMessage := fmt.Sprintf("Use %s -h to show usage", appName)
	if preCfg.ShowVersion {
		fmt.Println(appName, "version", version())
		os.Exit(0)
	}

	// Update the home directory if specified.  Since the home directory
	// is updated, other variables need to be updated to reflect the new
	// changes.
	if preCfg.AppDataDir.ExplicitlySet() {
		defaultHomeDir = cleanAndExpandPath(preCfg.AppDataDir.Value)
		cfg.AppDataDir.Value = defaultHomeDir
		if preCfg.ConfigFile == defaultConfigFile {
			defaultConfigFile = filepath.Join(defaultHomeDir, defaultConfigFilename)
			preCfg.ConfigFile = defaultConfigFile
			cfg.ConfigFile = defaultConfigFile
		}
		if cfg.LogDir == defaultLogDir {
			defaultLogDir = filepath.Join(defaultHomeDir, defaultLogDirname)
			cfg.LogDir = defaultLogDir
		}
	}

	// Create a default config file when one does not exist and the user did
	// not specify an override.
	if preCfg.ConfigFile == defaultConfigFile && !fileExists(preCfg.ConfigFile) {
		err := createDefaultConfigFile(preCfg.ConfigFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error creating a default config file: %v\n", err)
		}
	}

	// Load additional config from file.
	var configFileError error
	parser := newConfigParser(&cfg, flags.Default)
	err = flags.NewIniParser(parser).ParseFile(preCfg.ConfigFile)
	if err != nil {
		if _, ok := err.(*os.PathError); !ok {
			fmt.Fprintf(os.Stderr, "Error parsing config "+
				"file: %v\n", err)
			fmt.Fprintln(os.Stderr, usageMessage)
			return nil, nil, err
		}
		configFileError = err
	}

	// Parse command line options again to ensure they take precedence.
	remainingArgs, err := parser.Parse()
	if err != nil {
		if e, ok := err.(*flags.Error); !ok || e.Type != flags.ErrHelp {
			fmt.Fprintln(os.Stderr, usageMessage)
		}
		return nil, nil, err
	}

	// Create the home directory if it doesn't already exist.
	funcName := "loadConfig"
	err = os.MkdirAll(defaultHomeDir, 0700)
	if err != nil {
		// Show a nicer error message if it's because a symlink is
		// linked to a directory that does not exist (probably because
		// it's not mounted).
		if e, ok := err.(*os.PathError); ok && os.IsExist(err) {
			if link, lerr := os.Readlink(e.Path); lerr == nil {
				str := "is symlink %s -> %s mounted?"
				err = fmt.Errorf(str, e.Path, link)
			}
		}

		str := "%s: Failed to create home directory: %v"
		err := fmt.Errorf(str, funcName, err)
		fmt.Fprintln(os.Stderr, err)
		return nil, nil, err
	}

	// Expand the log directory
	cfg.LogDir = cleanAndExpandPath(cfg.LogDir)

	// Special show command to list supported subsystems and exit.
	if cfg.DebugLevel == "show" {
		fmt.Println("Supported subsystems", supportedSubsystems())
		os.Exit(0)
	}

	// Initialize log rotation. After log rotation has been initialized, the
	// logger variables may be used.
	initLogRotator(filepath.Join(cfg.LogDir, defaultLogFilename))
	utils.PanicDumpDir = cfg.LogDir

	// Parse, validate, and set debug log level(s).
	if err := parseAndSetDebugLevels(cfg.DebugLevel); err != nil {
		err := fmt.Errorf("%s: %v", funcName, err.Error())
		fmt.Fprintln(os.Stderr, err)
		fmt.Fprintln(os.Stderr, usageMessage)
		return nil, nil, err
	}

	// Show version at startup.
	ledgerLog.Infof("Version %s", version())

	// Validate database type.
	if !validDbType(cfg.DbType) {
		str := "%s: The specified database type [%v] is invalid -- " +
			"supported types %v"
		err := fmt.Errorf(str, funcName, cfg.DbType, knownDbTypes)
		fmt.Fprintln(os.Stderr, err)
		fmt.Fprintln(os.Stderr, usageMessage)
		return nil, nil, err
	}

	if cfg.DbName == "" {
		return nil, nil, fmt.Errorf("nil dbname")
	}

	if cfg.DbType == dal.DBTypeSQLite {
		cfg.DbName = cleanAndExpandPath(cfg.DbName)
	} else {
		if cfg.DbUsername == "" || cfg.DbPassword == "" {
			return nil, nil, errors.New("database username or password not configured, please add them in configuration file or " +
				"specify them using --dbusername and --dbpassword")
		}

		if cfg.DbAddress == "" {
			ledgerLog.Infof("Use default database address: %v", defaultDbAddress)
			cfg.DbAddress = defaultDbAddress
		}
	}

	// Validate the ledger identities.
	if utils.IsBlank(cfg.Chain) || len(cfg.Chain) > constdef.MaxChainLength {
		return nil, nil, fmt.Errorf("%s: chain must be set and at most %d characters", funcName, constdef.MaxChainLength)
	}
	if utils.IsBlank(cfg.Token) || len(cfg.Token) > constdef.MaxTokenLength {
		return nil, nil, fmt.Errorf("%s: token must be set and at most %d characters", funcName, constdef.MaxTokenLength)
	}
	if utils.IsBlank(cfg.AirdropToken) || len(cfg.AirdropToken) > constdef.MaxTokenLength {
		return nil, nil, fmt.Errorf("%s: airdroptoken must be set and at most %d characters", funcName, constdef.MaxTokenLength)
	}
	for name, value := range map[string]string{"chain": cfg.Chain, "token": cfg.Token, "airdroptoken": cfg.AirdropToken} {
		if strings.Contains(value, balancecache.KeySeparator) {
			return nil, nil, fmt.Errorf("%s: %s must not contain %q", funcName, name, balancecache.KeySeparator)
		}
	}
	if !utils.IsValidIdentifier(cfg.AirdropID, constdef.MaxAirdropIDLength) {
		return nil, nil, fmt.Errorf("%s: airdropid must be set and at most %d characters", funcName, constdef.MaxAirdropIDLength)
	}

	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = constdef.DefaultMaxBatchSize
	}
	ledgerLog.Infof("Max batch size: %v", cfg.MaxBatchSize)

	// Validate the balance cache.
	if !validCacheType(cfg.CacheType) {
		str := "%s: The specified cache type [%v] is invalid -- " +
			"supported types %v"
		err := fmt.Errorf(str, funcName, cfg.CacheType, knownCacheTypes)
		fmt.Fprintln(os.Stderr, err)
		fmt.Fprintln(os.Stderr, usageMessage)
		return nil, nil, err
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = constdef.DefaultLRUCacheEntries
	}
	if cfg.CacheMaxBytes <= 0 {
		cfg.CacheMaxBytes = constdef.DefaultFastCacheMaxBytes
	}
	if cfg.AuthorityRPS < 0 {
		return nil, nil, fmt.Errorf("%s: authorityrps must not be negative", funcName)
	}
	if cfg.AuthorityBurst <= 0 {
		cfg.AuthorityBurst = constdef.DefaultAuthorityBurst
	}

	if cfg.AuditInterval < 0 {
		return nil, nil, fmt.Errorf("%s: auditinterval must not be negative", funcName)
	}

	if cfg.MetricsListen != "" {
		if _, _, err := net.SplitHostPort(cfg.MetricsListen); err != nil {
			return nil, nil, fmt.Errorf("%s: invalid metricslisten %v: %v", funcName, cfg.MetricsListen, err)
		}
	}

	// Validate profile port number
	if cfg.ProfilePort != "" {
		profilePort, err := strconv.Atoi(cfg.ProfilePort)
		if err != nil || profilePort < 1024 || profilePort > 65535 {
			str := "%s: The profile port must be between 1024 and 65535"
			err := fmt.Errorf(str, funcName)
			return nil, nil, err
		}
	}

	// Warn about missing config file only after all other configuration is
	// done.  This prevents the warning on help messages and invalid
	// options.  Note this should go directly before the return.
	if configFileError != nil {
		ledgerLog.Warnf("%v", configFileError)
	}

	return &cfg, remainingArgs, nil
}

// fileExists reports whether the named file or directory exists.
func fileExists(name string) bool {
	if _, err := os.Stat(name); err != nil {
		if os.IsNotExist(err) {
			return false
		}
	}
	return true
}
