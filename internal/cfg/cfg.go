package cfg

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/jimlawless/whereami"
	"github.com/kaatchi-tech/search-engine/pkg/e"
)

type Config struct {
	Dataset *DatasetCfg
	Encoder *EncoderCfg
	Search  *SearchCfg
	Redis   *RedisCfg  // nil, если кэш результатов не настроен
	Kafka   *KafkaCfg  // nil, если аналитические события не настроены
	Qdrant  *QdrantCfg // nil, если используется локальный flat-индекс
	Minio   *MinIOCfg  // nil, если зеркалирование ассетов не настроено
}

// DatasetCfg описывает расположение каталога, изображений и артефактов.
type DatasetCfg struct {
	DatasetPath   string // корень датасета
	ImageDir      string // каталог с изображениями <id>.jpg
	MetadataFile  string // styles.csv
	EmbeddingsDir string // каталог с артефактами эмбеддингов и индекса
}

// EncoderCfg — параметры клиента сервиса кодировщика (CLIP-совместимый
// inference-сервер с OpenAI-совместимым embeddings API).
type EncoderCfg struct {
	BaseURL       string
	APIKey        string
	Model         string
	VectorSize    int // размерность выходного вектора (512 для ViT-B/32)
	MaxConcurrent int
	MaxRetries    int
	Timeout       time.Duration
}

// SearchCfg — пороги и параметры ранжирования.
type SearchCfg struct {
	DefaultTopK        int
	MaxTopK            int
	CoherenceThreshold float64
	ColorBoost         float64 // аддитивный бонус за совпадение цвета
	BandLow            float64 // нижняя граница презентационной полосы близости
	BandHigh           float64
	AssetBaseURL       string // базовый URL ассетов, отдаваемых витриной
}

type RedisCfg struct {
	Addr        string
	Password    string
	User        string
	DB          int
	MaxRetries  int
	DialTimeout time.Duration
	Timeout     time.Duration
	ResultTTL   time.Duration // TTL закэшированной выдачи
}

type KafkaCfg struct {
	Topic             string
	Brokers           []string
	NetworkMode       string
	Partitions        int
	ReplicationFactor int
}

type QdrantCfg struct {
	Host           string
	Port           int
	ApiKey         string
	CollectionName string
	UseTLS         bool
	VectorSize     uint64
}

type MinIOCfg struct {
	MinioEndpoint     string
	BucketName        string
	MinioRootUser     string
	MinioRootPassword string
	MinioUseSSL       bool
}

// Load безопасно загружает конфигурацию и возвращает ошибку в случае неудачи.
func Load() (*Config, error) {
	dataset, err := loadDatasetCfg()
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	encoder, err := loadEncoderCfg()
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	search, err := loadSearchCfg()
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	redis, err := loadRedisCfg()
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	kafka, err := loadKafkaCfg()
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	qdrant, err := loadQdrantCfg()
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	return &Config{
		Dataset: dataset,
		Encoder: encoder,
		Search:  search,
		Redis:   redis,
		Kafka:   kafka,
		Qdrant:  qdrant,
		Minio:   loadMinIOCfg(),
	}, nil
}

func loadDatasetCfg() (*DatasetCfg, error) {
	const (
		defaultImageSubdir      = "images"
		defaultMetadataFile     = "styles.csv"
		defaultEmbeddingsSubdir = "embeddings"
	)

	datasetPath := getEnv("DATASET_PATH")
	if datasetPath == "" {
		return nil, fmt.Errorf("DATASET_PATH environment variable is required")
	}

	return &DatasetCfg{
		DatasetPath:   datasetPath,
		ImageDir:      getEnvOrDefault("IMAGE_DIR", filepath.Join(datasetPath, defaultImageSubdir)),
		MetadataFile:  getEnvOrDefault("METADATA_FILE", filepath.Join(datasetPath, defaultMetadataFile)),
		EmbeddingsDir: getEnvOrDefault("EMBEDDINGS_PATH", filepath.Join(datasetPath, defaultEmbeddingsSubdir)),
	}, nil
}

func loadEncoderCfg() (*EncoderCfg, error) {
	const (
		defaultBaseURL       = "http://localhost:7997/v1"
		defaultModel         = "clip-ViT-B-32"
		defaultVectorSize    = 512
		defaultMaxConcurrent = 8
		defaultMaxRetries    = 3
		defaultTimeout       = 30 * time.Second
	)

	vectorSize, err := parseIntEnv("VECTOR_SIZE", defaultVectorSize)
	if err != nil {
		return nil, e.Wrap("VECTOR_SIZE", err)
	}

	maxConcurrent, err := parseIntEnv("ENCODER_MAX_CONCURRENT", defaultMaxConcurrent)
	if err != nil {
		return nil, e.Wrap("ENCODER_MAX_CONCURRENT", err)
	}

	maxRetries, err := parseIntEnv("ENCODER_MAX_RETRIES", defaultMaxRetries)
	if err != nil {
		return nil, e.Wrap("ENCODER_MAX_RETRIES", err)
	}

	timeout, err := parseDurationEnv("ENCODER_TIMEOUT", defaultTimeout)
	if err != nil {
		return nil, e.Wrap("ENCODER_TIMEOUT", err)
	}

	return &EncoderCfg{
		BaseURL:       getEnvOrDefault("ENCODER_BASE_URL", defaultBaseURL),
		APIKey:        getEnv("ENCODER_API_KEY"),
		Model:         getEnvOrDefault("ENCODER_MODEL", defaultModel),
		VectorSize:    vectorSize,
		MaxConcurrent: maxConcurrent,
		MaxRetries:    maxRetries,
		Timeout:       timeout,
	}, nil
}

func loadSearchCfg() (*SearchCfg, error) {
	const (
		defaultTopK               = 50
		defaultMaxTopK            = 100
		defaultCoherenceThreshold = 0.2
		defaultColorBoost         = 0.05
		defaultBandLow            = 0.6
		defaultBandHigh           = 1.0
		defaultAssetBaseURL       = "/images"
	)

	topK, err := parseIntEnv("SEARCH_DEFAULT_TOP_K", defaultTopK)
	if err != nil {
		return nil, e.Wrap("SEARCH_DEFAULT_TOP_K", err)
	}

	maxTopK, err := parseIntEnv("SEARCH_MAX_TOP_K", defaultMaxTopK)
	if err != nil {
		return nil, e.Wrap("SEARCH_MAX_TOP_K", err)
	}

	coherence, err := parseFloatEnv("COHERENCE_THRESHOLD", defaultCoherenceThreshold)
	if err != nil {
		return nil, e.Wrap("COHERENCE_THRESHOLD", err)
	}

	colorBoost, err := parseFloatEnv("COLOR_BOOST", defaultColorBoost)
	if err != nil {
		return nil, e.Wrap("COLOR_BOOST", err)
	}

	bandLow, err := parseFloatEnv("SIMILARITY_BAND_LOW", defaultBandLow)
	if err != nil {
		return nil, e.Wrap("SIMILARITY_BAND_LOW", err)
	}

	bandHigh, err := parseFloatEnv("SIMILARITY_BAND_HIGH", defaultBandHigh)
	if err != nil {
		return nil, e.Wrap("SIMILARITY_BAND_HIGH", err)
	}

	if bandLow < 0 || bandHigh > 1 || bandLow >= bandHigh {
		return nil, fmt.Errorf("invalid similarity band [%v, %v]", bandLow, bandHigh)
	}

	return &SearchCfg{
		DefaultTopK:        topK,
		MaxTopK:            maxTopK,
		CoherenceThreshold: coherence,
		ColorBoost:         colorBoost,
		BandLow:            bandLow,
		BandHigh:           bandHigh,
		AssetBaseURL:       getEnvOrDefault("ASSET_BASE_URL", defaultAssetBaseURL),
	}, nil
}

// loadRedisCfg возвращает nil без ошибки, если REDIS_ADDR не задан:
// кэш результатов — необязательная часть движка.
func loadRedisCfg() (*RedisCfg, error) {
	const (
		defaultDB          = 0
		defaultMaxRetries  = 3
		defaultDialTimeout = 5 * time.Second
		defaultTimeout     = 3 * time.Second
		defaultResultTTL   = 3 * time.Minute
	)

	addr := getEnv("REDIS_ADDR")
	if addr == "" {
		return nil, nil
	}

	db, err := parseIntEnv("REDIS_DB_ID", defaultDB)
	if err != nil {
		return nil, e.Wrap("REDIS_DB_ID", err)
	}

	maxRetries, err := parseIntEnv("REDIS_MAX_RETRIES", defaultMaxRetries)
	if err != nil {
		return nil, e.Wrap("REDIS_MAX_RETRIES", err)
	}

	dialTimeout, err := parseDurationEnv("REDIS_DIAL_TIMEOUT", defaultDialTimeout)
	if err != nil {
		return nil, e.Wrap("REDIS_DIAL_TIMEOUT", err)
	}

	timeout, err := parseDurationEnv("REDIS_TIMEOUT", defaultTimeout)
	if err != nil {
		return nil, e.Wrap("REDIS_TIMEOUT", err)
	}

	resultTTL, err := parseDurationEnv("RESULT_TTL", defaultResultTTL)
	if err != nil {
		return nil, e.Wrap("RESULT_TTL", err)
	}

	return &RedisCfg{
		Addr:        addr,
		Password:    getEnv("REDIS_PASSWORD"),
		User:        getEnv("REDIS_USER"),
		DB:          db,
		MaxRetries:  maxRetries,
		DialTimeout: dialTimeout,
		Timeout:     timeout,
		ResultTTL:   resultTTL,
	}, nil
}

// loadKafkaCfg возвращает nil без ошибки, если KAFKA_BROKERS не задан.
func loadKafkaCfg() (*KafkaCfg, error) {
	const (
		defaultNetworkMode       = "tcp"
		defaultPartitions        = 1
		defaultReplicationFactor = 1
	)

	brokerStr := getEnv("KAFKA_BROKERS")
	if brokerStr == "" {
		return nil, nil
	}

	topic := getEnv("KAFKA_TOPIC")
	if topic == "" {
		return nil, fmt.Errorf("KAFKA_TOPIC environment variable is required")
	}

	partitions, err := parseIntEnv("KAFKA_PARTITIONS", defaultPartitions)
	if err != nil {
		return nil, e.Wrap("KAFKA_PARTITIONS", err)
	}

	replicationFactor, err := parseIntEnv("KAFKA_REPLICATION_FACTOR", defaultReplicationFactor)
	if err != nil {
		return nil, e.Wrap("KAFKA_REPLICATION_FACTOR", err)
	}

	return &KafkaCfg{
		Brokers:           strings.Split(brokerStr, ","),
		Topic:             topic,
		NetworkMode:       getEnvOrDefault("KAFKA_NETWORK_MODE", defaultNetworkMode),
		Partitions:        partitions,
		ReplicationFactor: replicationFactor,
	}, nil
}

// loadQdrantCfg возвращает nil без ошибки, если QDRANT_HOST не задан:
// по умолчанию движок работает с локальным flat-индексом.
func loadQdrantCfg() (*QdrantCfg, error) {
	const (
		defaultQdrantGRPCPort = 6334
		defaultVectorSize     = 512
	)

	host := getEnv("QDRANT_HOST")
	if host == "" {
		return nil, nil
	}

	collection := getEnv("COLLECTION_NAME")
	if collection == "" {
		return nil, fmt.Errorf("COLLECTION_NAME environment variable is required")
	}

	port, err := parseIntEnv("QDRANT_GRPC_PORT", defaultQdrantGRPCPort)
	if err != nil {
		return nil, e.Wrap("QDRANT_GRPC_PORT", err)
	}

	useTLS, err := strconv.ParseBool(getEnvOrDefault("QDRANT_USE_TLS", "false"))
	if err != nil {
		return nil, e.Wrap("QDRANT_USE_TLS", err)
	}

	vectorSize, err := parseIntEnv("VECTOR_SIZE", defaultVectorSize)
	if err != nil {
		return nil, e.Wrap("VECTOR_SIZE", err)
	}

	return &QdrantCfg{
		Host:           host,
		Port:           port,
		ApiKey:         getEnv("QDRANT__SERVICE__API_KEY"),
		CollectionName: collection,
		UseTLS:         useTLS,
		VectorSize:     uint64(vectorSize),
	}, nil
}

// loadMinIOCfg возвращает nil, если MINIO_ENDPOINT не задан.
func loadMinIOCfg() *MinIOCfg {
	endpoint := getEnv("MINIO_ENDPOINT")
	if endpoint == "" {
		return nil
	}

	useSSL, err := strconv.ParseBool(getEnvOrDefault("MINIO_USE_SSL", "false"))
	if err != nil {
		useSSL = false
	}

	return &MinIOCfg{
		MinioEndpoint:     endpoint,
		BucketName:        getEnv("BUCKET_NAME"),
		MinioRootUser:     getEnv("MINIO_ROOT_USER"),
		MinioRootPassword: getEnv("MINIO_ROOT_PASSWORD"),
		MinioUseSSL:       useSSL,
	}
}

// getEnv возвращает значение переменной окружения.
// Возвращает пустую строку, если переменная не задана.
func getEnv(key string) string {
	return os.Getenv(key)
}

// getEnvOrDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}

	return defaultValue
}

// parseDurationEnv считывает длительность или возвращает значение по умолчанию.
func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	if v := os.Getenv(key); v != "" {
		return time.ParseDuration(v)
	}

	return defaultValue, nil
}

func parseIntEnv(key string, defaultValue int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue, nil
	}

	intValue, err := strconv.Atoi(v)
	if err != nil {
		return defaultValue, e.ErrIncorrectEnvVariable
	}

	return intValue, nil
}

func parseFloatEnv(key string, defaultValue float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue, nil
	}

	floatValue, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultValue, e.ErrIncorrectEnvVariable
	}

	return floatValue, nil
}
