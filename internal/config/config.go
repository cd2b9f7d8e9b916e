package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 桥接服务配置
type Config struct {
	Service  ServiceConfig  `yaml:"service" json:"service"`
	Postgres PostgresConfig `yaml:"postgres" json:"postgres"`
	Redis    RedisConfig    `yaml:"redis" json:"redis"`
	Kafka    KafkaConfig    `yaml:"kafka" json:"kafka"`
	Log      LogConfig      `yaml:"log" json:"log"`
	Bridge   BridgeConfig   `yaml:"bridge" json:"bridge"`
	Chains   []ChainConfig  `yaml:"chains" json:"chains"`
	EVM      EVMConfig      `yaml:"evm" json:"evm"`
	Signing  SigningConfig  `yaml:"signing" json:"signing"`
	Lock     LockConfig     `yaml:"lock" json:"lock"`
}

// ServiceConfig 服务配置
type ServiceConfig struct {
	Name     string `yaml:"name" json:"name"`
	HTTPPort int    `yaml:"http_port" json:"http_port"`
	GRPCPort int    `yaml:"grpc_port" json:"grpc_port"`
	Env      string `yaml:"env" json:"env"`
	AdminKey string `yaml:"admin_key" json:"-"` // 管理接口 X-Admin-Key
}

// PostgresConfig PostgreSQL 配置
type PostgresConfig struct {
	Host            string `yaml:"host" json:"host"`
	Port            int    `yaml:"port" json:"port"`
	Database        string `yaml:"database" json:"database"`
	User            string `yaml:"user" json:"user"`
	Password        string `yaml:"password" json:"-"`
	SSLMode         string `yaml:"ssl_mode" json:"ssl_mode"`
	MaxConnections  int    `yaml:"max_connections" json:"max_connections"`
	MaxIdleConns    int    `yaml:"max_idle_conns" json:"max_idle_conns"`
	ConnMaxLifetime int    `yaml:"conn_max_lifetime" json:"conn_max_lifetime"` // 秒
}

// DSN 连接串
func (c PostgresConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

// RedisConfig Redis 配置
type RedisConfig struct {
	Addresses []string `yaml:"addresses" json:"addresses"`
	Password  string   `yaml:"password" json:"-"`
	DB        int      `yaml:"db" json:"db"`
	PoolSize  int      `yaml:"pool_size" json:"pool_size"`
}

// KafkaConfig Kafka 配置
type KafkaConfig struct {
	Enabled  bool     `yaml:"enabled" json:"enabled"`
	Brokers  []string `yaml:"brokers" json:"brokers"`
	GroupID  string   `yaml:"group_id" json:"group_id"`
	ClientID string   `yaml:"client_id" json:"client_id"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
	Output string `yaml:"output" json:"output"`
}

// BridgeConfig 全局参数 (对应参数注册表)
type BridgeConfig struct {
	BtcChainID           string `yaml:"btc_chain_id" json:"btc_chain_id"`
	BtcNetwork           string `yaml:"btc_network" json:"btc_network"` // mainnet, testnet3, signet, regtest
	TreasuryAddress      string `yaml:"treasury_address" json:"treasury_address"`
	ChangeAddress        string `yaml:"change_address" json:"change_address"`
	MPCContract          string `yaml:"mpc_contract" json:"mpc_contract"`
	KeyVersion           uint32 `yaml:"key_version" json:"key_version"`
	MaxRetryCount        uint32 `yaml:"max_retry_count" json:"max_retry_count"`
	DepositFeeBps        uint32 `yaml:"deposit_fee_bps" json:"deposit_fee_bps"`
	RedemptionFeeBps     uint32 `yaml:"redemption_fee_bps" json:"redemption_fee_bps"`
	BridgingFeeBps       uint32 `yaml:"bridging_fee_bps" json:"bridging_fee_bps"`
	KeyDelimiter         string `yaml:"key_delimiter" json:"key_delimiter"`
	SettlementBatchLimit int    `yaml:"settlement_batch_limit" json:"settlement_batch_limit"`
}

// 链网络类型
const (
	NetworkTypeBitcoin = "BITCOIN"
	NetworkTypeEVM     = "EVM"
	NetworkTypeNEAR    = "NEAR"
)

// ChainConfig 单条链参数 (对应链注册表)
type ChainConfig struct {
	ChainID             string `yaml:"chain_id" json:"chain_id"`
	NetworkType         string `yaml:"network_type" json:"network_type"`
	NetworkName         string `yaml:"network_name" json:"network_name"`
	ValidatorsThreshold uint32 `yaml:"validators_threshold" json:"validators_threshold"`
	AssetAddress        string `yaml:"asset_address" json:"asset_address"` // aBTC 合约
	RPCURL              string `yaml:"rpc_url" json:"rpc_url"`
	EVMChainID          int64  `yaml:"evm_chain_id" json:"evm_chain_id"`
	MPCPath             string `yaml:"mpc_path" json:"mpc_path"`
	SignerAddress       string `yaml:"signer_address" json:"signer_address"` // MPC 派生的发送地址
	GasLimit            uint64 `yaml:"gas_limit" json:"gas_limit"`
	MintingFee          uint64 `yaml:"minting_fee" json:"minting_fee"` // 目标链铸造费 (sats)
}

// EVMConfig EVM 交易默认参数
type EVMConfig struct {
	DefaultGasLimit  uint64        `yaml:"default_gas_limit" json:"default_gas_limit"`
	MaxFeePerGasGwei uint64        `yaml:"max_fee_per_gas_gwei" json:"max_fee_per_gas_gwei"`
	TipCapGwei       uint64        `yaml:"tip_cap_gwei" json:"tip_cap_gwei"`
	RPCTimeout       time.Duration `yaml:"rpc_timeout" json:"rpc_timeout"`
}

// SigningConfig 外部签名配置
type SigningConfig struct {
	Timeout   time.Duration `yaml:"timeout" json:"timeout"`
	SweepCron string        `yaml:"sweep_cron" json:"sweep_cron"`
}

// LockConfig 事件锁配置
type LockConfig struct {
	Backend       string        `yaml:"backend" json:"backend"` // redis, local
	Expiration    time.Duration `yaml:"expiration" json:"expiration"`
	RetryInterval time.Duration `yaml:"retry_interval" json:"retry_interval"`
	MaxRetries    int           `yaml:"max_retries" json:"max_retries"`
}

// Load 加载配置文件, 支持 ${VAR} 与 ${VAR:default}
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse 解析配置内容
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal([]byte(expandEnvVars(string(data))), &cfg); err != nil {
		return nil, err
	}
	setDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func expandEnvVars(s string) string {
	var b strings.Builder
	for {
		start := strings.Index(s, "${")
		if start == -1 {
			break
		}
		end := strings.Index(s[start:], "}")
		if end == -1 {
			break
		}
		end += start

		name, def, _ := strings.Cut(s[start+2:end], ":")
		value := os.Getenv(name)
		if value == "" {
			value = def
		}

		b.WriteString(s[:start])
		b.WriteString(value)
		s = s[end+1:]
	}
	b.WriteString(s)
	return b.String()
}

func setDefaults(cfg *Config) {
	if cfg.Service.Name == "" {
		cfg.Service.Name = "eidos-bridge"
	}
	if cfg.Service.HTTPPort == 0 {
		cfg.Service.HTTPPort = 8090
	}
	if cfg.Service.GRPCPort == 0 {
		cfg.Service.GRPCPort = 50060
	}
	if cfg.Service.Env == "" {
		cfg.Service.Env = "dev"
	}

	if cfg.Postgres.Port == 0 {
		cfg.Postgres.Port = 5432
	}
	if cfg.Postgres.SSLMode == "" {
		cfg.Postgres.SSLMode = "disable"
	}
	if cfg.Postgres.MaxConnections == 0 {
		cfg.Postgres.MaxConnections = 50
	}
	if cfg.Postgres.MaxIdleConns == 0 {
		cfg.Postgres.MaxIdleConns = 10
	}
	if cfg.Postgres.ConnMaxLifetime == 0 {
		cfg.Postgres.ConnMaxLifetime = 3600
	}

	if cfg.Redis.PoolSize == 0 {
		cfg.Redis.PoolSize = 20
	}

	if cfg.Kafka.GroupID == "" {
		cfg.Kafka.GroupID = "eidos-bridge"
	}
	if cfg.Kafka.ClientID == "" {
		cfg.Kafka.ClientID = cfg.Service.Name
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}

	if cfg.Bridge.BtcNetwork == "" {
		cfg.Bridge.BtcNetwork = "signet"
	}
	if cfg.Bridge.BtcChainID == "" {
		cfg.Bridge.BtcChainID = "SIGNET"
	}
	if cfg.Bridge.MaxRetryCount == 0 {
		cfg.Bridge.MaxRetryCount = 3
	}
	if cfg.Bridge.KeyVersion == 0 {
		cfg.Bridge.KeyVersion = 1
	}
	if cfg.Bridge.KeyDelimiter == "" {
		cfg.Bridge.KeyDelimiter = ","
	}
	if cfg.Bridge.SettlementBatchLimit == 0 {
		cfg.Bridge.SettlementBatchLimit = 200
	}

	if cfg.EVM.DefaultGasLimit == 0 {
		cfg.EVM.DefaultGasLimit = 200000
	}
	if cfg.EVM.MaxFeePerGasGwei == 0 {
		cfg.EVM.MaxFeePerGasGwei = 50
	}
	if cfg.EVM.TipCapGwei == 0 {
		cfg.EVM.TipCapGwei = 2
	}
	if cfg.EVM.RPCTimeout == 0 {
		cfg.EVM.RPCTimeout = 5 * time.Second
	}

	if cfg.Signing.Timeout == 0 {
		cfg.Signing.Timeout = 10 * time.Minute
	}
	if cfg.Signing.SweepCron == "" {
		cfg.Signing.SweepCron = "@every 1m"
	}

	if cfg.Lock.Backend == "" {
		cfg.Lock.Backend = "redis"
	}
	if cfg.Lock.Expiration == 0 {
		cfg.Lock.Expiration = 30 * time.Second
	}
	if cfg.Lock.RetryInterval == 0 {
		cfg.Lock.RetryInterval = 50 * time.Millisecond
	}
	if cfg.Lock.MaxRetries == 0 {
		cfg.Lock.MaxRetries = 100
	}

	for i := range cfg.Chains {
		if cfg.Chains[i].ValidatorsThreshold == 0 {
			cfg.Chains[i].ValidatorsThreshold = 1
		}
		if cfg.Chains[i].NetworkType == NetworkTypeEVM && cfg.Chains[i].GasLimit == 0 {
			cfg.Chains[i].GasLimit = cfg.EVM.DefaultGasLimit
		}
	}
}

// Validate 校验配置
func (c *Config) Validate() error {
	if c.Bridge.DepositFeeBps > 10000 || c.Bridge.RedemptionFeeBps > 10000 || c.Bridge.BridgingFeeBps > 10000 {
		return fmt.Errorf("fee bps must not exceed 10000")
	}
	seen := make(map[string]struct{}, len(c.Chains))
	for _, ch := range c.Chains {
		if ch.ChainID == "" {
			return fmt.Errorf("chain_id is required")
		}
		if _, ok := seen[ch.ChainID]; ok {
			return fmt.Errorf("duplicate chain %s", ch.ChainID)
		}
		seen[ch.ChainID] = struct{}{}

		switch ch.NetworkType {
		case NetworkTypeBitcoin, NetworkTypeNEAR:
		case NetworkTypeEVM:
			if ch.EVMChainID == 0 {
				return fmt.Errorf("chain %s: evm_chain_id is required", ch.ChainID)
			}
		default:
			return fmt.Errorf("chain %s: unknown network_type %q", ch.ChainID, ch.NetworkType)
		}
	}
	switch c.Lock.Backend {
	case "redis", "local":
	default:
		return fmt.Errorf("unknown lock backend %q", c.Lock.Backend)
	}
	return nil
}
