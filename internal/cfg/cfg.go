package cfg

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"har-lifecycle/internal/common"
	"har-lifecycle/internal/logging"
	"har-lifecycle/internal/ml"
	"har-lifecycle/internal/pipeline"
)

type Settings struct {
	DataPath       string
	UCIDir         string
	RawDataset     string
	ModelsDir      string
	PredictionsDir string
	ReportsDir     string

	ListenAddr     string
	EnableReload   bool
	WatchModels    bool
	WatchDebounce  time.Duration
	CacheSize      int
	ServerURL      string
	RequestTimeout time.Duration

	Policy  pipeline.Policy
	Trainer ml.TrainerConfig

	LogLevel string
	LogFile  string
}

type ConfigFile struct {
	Paths struct {
		DataPath       string `yaml:"dataPath"`
		UCIDir         string `yaml:"uciDir"`
		RawDataset     string `yaml:"rawDataset"`
		ModelsDir      string `yaml:"modelsDir"`
		PredictionsDir string `yaml:"predictionsDir"`
		ReportsDir     string `yaml:"reportsDir"`
	} `yaml:"paths"`

	Server struct {
		ListenAddr     string `yaml:"listenAddr"`
		EnableReload   bool   `yaml:"enableReload"`
		WatchModels    bool   `yaml:"watchModels"`
		WatchDebounce  string `yaml:"watchDebounce"`
		CacheSize      int    `yaml:"cacheSize"`
		URL            string `yaml:"url"`
		RequestTimeout string `yaml:"requestTimeout"`
	} `yaml:"server"`

	Training struct {
		TestRatio     float64         `yaml:"testRatio"`
		Seed          int64           `yaml:"seed"`
		MinAccuracy   float64         `yaml:"minAccuracy"`
		ImportanceTop int             `yaml:"importanceTop"`
		Forest        ml.ForestConfig `yaml:"forest"`
	} `yaml:"training"`

	Pipeline struct {
		Policy string `yaml:"policy"`
	} `yaml:"pipeline"`

	Logging struct {
		Level string `yaml:"level"`
		File  string `yaml:"file"`
	} `yaml:"logging"`
}

func defaultConfigFile() ConfigFile {
	var c ConfigFile
	c.Paths.DataPath = common.DefaultDataPath
	c.Server.ListenAddr = common.DefaultListenAddr
	c.Server.EnableReload = true
	c.Server.WatchModels = true
	c.Server.WatchDebounce = common.DefaultWatchDebounce.String()
	c.Server.CacheSize = common.DefaultCacheSize
	c.Server.URL = common.DefaultServerURL
	c.Server.RequestTimeout = common.DefaultRequestTimeout.String()

	trainer := ml.DefaultTrainerConfig()
	c.Training.TestRatio = trainer.TestRatio
	c.Training.Seed = trainer.Seed
	c.Training.MinAccuracy = trainer.MinAccuracy
	c.Training.Forest = trainer.Forest

	c.Pipeline.Policy = common.DefaultPipelinePolicy
	c.Logging.Level = common.DefaultLogLevel
	return c
}

// Load builds settings from defaults, the YAML file named by HAR_CONFIG_FILE
// when set, and environment overrides, in that order.
func Load() (Settings, error) {
	config := defaultConfigFile()
	if configPath := os.Getenv(common.EnvConfigFile); configPath != "" {
		if err := loadYAML(configPath, &config); err != nil {
			return Settings{}, err
		}
	}

	settings, err := fromConfig(config)
	if err != nil {
		return Settings{}, err
	}

	if err := validateSettings(&settings); err != nil {
		return Settings{}, fmt.Errorf("configuration validation failed: %w", err)
	}
	return settings, nil
}

func loadYAML(path string, config *ConfigFile) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, config); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

func fromConfig(config ConfigFile) (Settings, error) {
	watchDebounce, err := parseDuration("server.watchDebounce", config.Server.WatchDebounce)
	if err != nil {
		return Settings{}, err
	}
	requestTimeout, err := parseDuration("server.requestTimeout", config.Server.RequestTimeout)
	if err != nil {
		return Settings{}, err
	}

	policy, err := pipeline.ParsePolicy(getEnvOrDefault(common.EnvPipelinePolicy, config.Pipeline.Policy))
	if err != nil {
		return Settings{}, err
	}

	forest := config.Training.Forest
	forest.NEstimators = getIntOrDefault(common.EnvNEstimators, forest.NEstimators)
	forest.MaxDepth = getIntOrDefault(common.EnvMaxDepth, forest.MaxDepth)
	forest.MinSamplesSplit = getIntOrDefault(common.EnvMinSamplesSplit, forest.MinSamplesSplit)
	forest.MinSamplesLeaf = getIntOrDefault(common.EnvMinSamplesLeaf, forest.MinSamplesLeaf)
	seed := getInt64OrDefault(common.EnvSeed, config.Training.Seed)
	forest.Seed = seed

	settings := Settings{
		DataPath:       getEnvOrDefault(common.EnvDataPath, config.Paths.DataPath),
		UCIDir:         getEnvOrDefault(common.EnvUCIDir, config.Paths.UCIDir),
		RawDataset:     getEnvOrDefault(common.EnvRawDataset, config.Paths.RawDataset),
		ModelsDir:      getEnvOrDefault(common.EnvModelsDir, config.Paths.ModelsDir),
		PredictionsDir: getEnvOrDefault(common.EnvPredictionsDir, config.Paths.PredictionsDir),
		ReportsDir:     getEnvOrDefault(common.EnvReportsDir, config.Paths.ReportsDir),

		ListenAddr:     getEnvOrDefault(common.EnvListenAddr, config.Server.ListenAddr),
		EnableReload:   getBoolOrDefault(common.EnvEnableReload, config.Server.EnableReload),
		WatchModels:    getBoolOrDefault(common.EnvWatchModels, config.Server.WatchModels),
		WatchDebounce:  getDurationOrDefault(common.EnvWatchDebounce, watchDebounce),
		CacheSize:      getIntOrDefault(common.EnvCacheSize, config.Server.CacheSize),
		ServerURL:      getEnvOrDefault(common.EnvServerURL, config.Server.URL),
		RequestTimeout: getDurationOrDefault(common.EnvRequestTimeout, requestTimeout),

		Policy: policy,
		Trainer: ml.TrainerConfig{
			TestRatio:     getFloatOrDefault(common.EnvTestRatio, config.Training.TestRatio),
			Seed:          seed,
			Forest:        forest,
			MinAccuracy:   getFloatOrDefault(common.EnvMinAccuracy, config.Training.MinAccuracy),
			ImportanceTop: getIntOrDefault(common.EnvImportanceTop, config.Training.ImportanceTop),
		},

		LogLevel: getEnvOrDefault(common.EnvLogLevel, config.Logging.Level),
		LogFile:  getEnvOrDefault(common.EnvLogFile, config.Logging.File),
	}
	settings.resolvePaths()
	return settings, nil
}

// resolvePaths fills every unset directory from DataPath.
func (s *Settings) resolvePaths() {
	if s.UCIDir == "" {
		s.UCIDir = filepath.Join(s.DataPath, "external", common.UCIDirName)
	}
	if s.RawDataset == "" {
		s.RawDataset = filepath.Join(s.DataPath, common.RawDirName, common.RawDatasetName)
	}
	if s.ModelsDir == "" {
		s.ModelsDir = filepath.Join(s.DataPath, common.ModelsDirName)
	}
	if s.PredictionsDir == "" {
		s.PredictionsDir = filepath.Join(s.DataPath, common.PredictionsDirName)
	}
	if s.ReportsDir == "" {
		s.ReportsDir = filepath.Join(s.DataPath, common.ReportsDirName)
	}
}

func parseDuration(field, v string) (time.Duration, error) {
	if v == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", field, v, err)
	}
	return d, nil
}

// validateSettings performs range checks on configuration values
func validateSettings(settings *Settings) error {
	if settings.DataPath == "" {
		return fmt.Errorf("data path cannot be empty")
	}
	if settings.ListenAddr == "" {
		return fmt.Errorf("listen address cannot be empty")
	}
	if settings.ServerURL == "" {
		return fmt.Errorf("server URL cannot be empty")
	}

	if settings.WatchModels && (settings.WatchDebounce < 10*time.Millisecond || settings.WatchDebounce > time.Minute) {
		return fmt.Errorf("watch debounce must be between 10ms and 1m, got %v", settings.WatchDebounce)
	}
	if settings.RequestTimeout < 100*time.Millisecond || settings.RequestTimeout > 5*time.Minute {
		return fmt.Errorf("request timeout must be between 100ms and 5m, got %v", settings.RequestTimeout)
	}
	if settings.CacheSize <= 0 || settings.CacheSize > 1024 {
		return fmt.Errorf("cache size must be between 1 and 1024, got %d", settings.CacheSize)
	}

	tr := settings.Trainer
	if tr.TestRatio <= 0 || tr.TestRatio >= 1 {
		return fmt.Errorf("test ratio must be between 0 and 1 exclusive, got %f", tr.TestRatio)
	}
	if tr.MinAccuracy < 0 || tr.MinAccuracy > 1 {
		return fmt.Errorf("min accuracy must be between 0 and 1, got %f", tr.MinAccuracy)
	}
	if tr.ImportanceTop < 0 {
		return fmt.Errorf("importance top cannot be negative, got %d", tr.ImportanceTop)
	}
	if tr.Forest.NEstimators <= 0 || tr.Forest.NEstimators > 5000 {
		return fmt.Errorf("number of trees must be between 1 and 5000, got %d", tr.Forest.NEstimators)
	}
	if tr.Forest.MaxDepth < 0 {
		return fmt.Errorf("max depth cannot be negative, got %d", tr.Forest.MaxDepth)
	}
	if tr.Forest.MinSamplesSplit < 2 {
		return fmt.Errorf("min samples split must be at least 2, got %d", tr.Forest.MinSamplesSplit)
	}
	if tr.Forest.MinSamplesLeaf < 1 {
		return fmt.Errorf("min samples leaf must be at least 1, got %d", tr.Forest.MinSamplesLeaf)
	}
	if tr.Forest.MaxFeatures < 0 {
		return fmt.Errorf("max features cannot be negative, got %d", tr.Forest.MaxFeatures)
	}

	if _, err := logging.ParseLevel(settings.LogLevel); err != nil {
		return err
	}
	return nil
}
