package conf

import (
	"encoding/json"
	"fmt"
	"time"
)

// Bootstrap 配置根节点
type Bootstrap struct {
	Server      *Server      `json:"server"`
	Data        *Data        `json:"data"`
	Log         *Log         `json:"log"`
	Fulfillment *Fulfillment `json:"fulfillment"`
}

// Server 服务监听配置
type Server struct {
	Http *Server_HTTP `json:"http"`
}

type Server_HTTP struct {
	Network string    `json:"network"`
	Addr    string    `json:"addr"`
	Timeout *Duration `json:"timeout"`
}

// Data 存储与消息中间件配置
type Data struct {
	Database *Data_Database `json:"database"`
	Redis    *Data_Redis    `json:"redis"`
	Rocketmq *Data_Rocketmq `json:"rocketmq"`
}

type Data_Database struct {
	Driver string `json:"driver"`
	Source string `json:"source"`
}

type Data_Redis struct {
	Addr         string    `json:"addr"`
	Password     string    `json:"password"`
	Db           int32     `json:"db"`
	ReadTimeout  *Duration `json:"read_timeout"`
	WriteTimeout *Duration `json:"write_timeout"`
}

type Data_Rocketmq struct {
	Enabled     bool     `json:"enabled"`
	NameServers []string `json:"name_servers"`
	GroupName   string   `json:"group_name"`
	Topic       string   `json:"topic"`
	RetryTimes  int32    `json:"retry_times"`
}

// Log 日志配置
type Log struct {
	Level      string `json:"level"`
	Format     string `json:"format"`
	FilePath   string `json:"file_path"`
	MaxSize    int32  `json:"max_size"`
	MaxAge     int32  `json:"max_age"`
	MaxBackups int32  `json:"max_backups"`
	Compress   bool   `json:"compress"`
}

// Fulfillment 派单核心配置
type Fulfillment struct {
	Provider   *Fulfillment_Provider   `json:"provider"`
	Dispatch   *Fulfillment_Dispatch   `json:"dispatch"`
	RetryQueue *Fulfillment_RetryQueue `json:"retry_queue"`
	Scheduler  *Fulfillment_Scheduler  `json:"scheduler"`
}

type Fulfillment_Provider struct {
	RequestTimeout  *Duration `json:"request_timeout"`
	CacheTtl        *Duration `json:"cache_ttl"`
	DefaultPlatform string    `json:"default_platform"`
}

type Fulfillment_Dispatch struct {
	LockExpiry *Duration `json:"lock_expiry"`
}

type Fulfillment_RetryQueue struct {
	KeyPrefix          string    `json:"key_prefix"`
	BaseDelay          *Duration `json:"base_delay"`
	DefaultMaxAttempts int32     `json:"default_max_attempts"`
	Concurrency        int32     `json:"concurrency"`
	Cron               string    `json:"cron"`
}

type Fulfillment_Scheduler struct {
	PendingSweepCron string    `json:"pending_sweep_cron"`
	PendingBatchSize int32     `json:"pending_batch_size"`
	StatusCheckCron  string    `json:"status_check_cron"`
	StatusBatchSize  int32     `json:"status_batch_size"`
	Concurrency      int32     `json:"concurrency"`
	LockExpiry       *Duration `json:"lock_expiry"`
}

// Duration 支持 "30s" 或数字（秒）两种写法
type Duration struct {
	time.Duration
}

// NewDuration 由 time.Duration 构造
func NewDuration(d time.Duration) *Duration {
	return &Duration{Duration: d}
}

// AsDuration 返回 time.Duration，nil 安全
func (d *Duration) AsDuration() time.Duration {
	if d == nil {
		return 0
	}
	return d.Duration
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Duration.String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v interface{}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch value := v.(type) {
	case float64:
		d.Duration = time.Duration(value * float64(time.Second))
		return nil
	case string:
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", value, err)
		}
		d.Duration = parsed
		return nil
	default:
		return fmt.Errorf("invalid duration: %s", string(b))
	}
}
