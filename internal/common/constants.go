package common

import "time"

// Environment variable keys
const (
	EnvConfigFile      = "HAR_CONFIG_FILE"
	EnvDataPath        = "HAR_DATA_PATH"
	EnvUCIDir          = "HAR_UCI_DIR"
	EnvRawDataset      = "HAR_RAW_DATASET"
	EnvModelsDir       = "HAR_MODELS_DIR"
	EnvPredictionsDir  = "HAR_PREDICTIONS_DIR"
	EnvReportsDir      = "HAR_REPORTS_DIR"
	EnvListenAddr      = "HAR_LISTEN_ADDR"
	EnvEnableReload    = "HAR_ENABLE_RELOAD"
	EnvWatchModels     = "HAR_WATCH_MODELS"
	EnvWatchDebounce   = "HAR_WATCH_DEBOUNCE"
	EnvCacheSize       = "HAR_CACHE_SIZE"
	EnvPipelinePolicy  = "HAR_PIPELINE_POLICY"
	EnvTestRatio       = "HAR_TEST_RATIO"
	EnvSeed            = "HAR_SEED"
	EnvNEstimators     = "HAR_N_ESTIMATORS"
	EnvMaxDepth        = "HAR_MAX_DEPTH"
	EnvMinSamplesSplit = "HAR_MIN_SAMPLES_SPLIT"
	EnvMinSamplesLeaf  = "HAR_MIN_SAMPLES_LEAF"
	EnvMinAccuracy     = "HAR_MIN_ACCURACY"
	EnvImportanceTop   = "HAR_IMPORTANCE_TOP"
	EnvLogLevel        = "HAR_LOG_LEVEL"
	EnvLogFile         = "HAR_LOG_FILE"
	EnvServerURL       = "HAR_SERVER_URL"
	EnvRequestTimeout  = "HAR_REQUEST_TIMEOUT"
)

// Directory layout under the data path.
const (
	DefaultDataPath    = "data"
	UCIDirName         = "UCI HAR Dataset"
	RawDirName         = "raw"
	RawDatasetName     = "har_merged.csv"
	ModelsDirName      = "models"
	PredictionsDirName = "predictions"
	ReportsDirName     = "reports"
)

// Service defaults
const (
	DefaultListenAddr     = ":8080"
	DefaultServerURL      = "http://localhost:8080"
	DefaultWatchDebounce  = 250 * time.Millisecond
	DefaultCacheSize      = 8
	DefaultRequestTimeout = 5 * time.Second
	DefaultPipelinePolicy = "abort"
	DefaultLogLevel       = "info"
)

// Pipeline summary artifact written to the reports directory.
const PipelineSummaryFile = "pipeline_summary.json"
