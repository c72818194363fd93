package config

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application level configuration aggregated from env/config files.
type Config struct {
	Server struct {
		Addr string
	}
	Database struct {
		Path string
	}
	Storage struct {
		Bucket             string
		KeyPrefix          string
		Region             string
		Endpoint           string
		MultipartThreshold int64
		PresignExpiry      time.Duration
		CallTimeout        time.Duration
	}
	AWS struct {
		// Temporary session credentials deposited by the out-of-band
		// credential-refresh script; the service only reads them.
		AccessKeyID     string
		SecretAccessKey string
		SessionToken    string
		// Expiry is when the session credentials lapse, RFC 3339.
		Expiry string
	}
	Auth struct {
		JWTSecret string
	}
}

// Load reads configuration from environment variables and optional config files.
func Load() (Config, error) {
	loadDotEnv()

	v := viper.New()
	v.SetEnvPrefix("UPLOADER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("server.addr", "0.0.0.0:8080")
	v.SetDefault("database.path", "data/uploads.db")
	v.SetDefault("storage.bucket", "")
	v.SetDefault("storage.keyprefix", "incoming")
	v.SetDefault("storage.region", "us-east-1")
	v.SetDefault("storage.endpoint", "")
	v.SetDefault("storage.multipartthreshold", int64(100<<20))
	v.SetDefault("storage.presignexpiry", time.Hour)
	v.SetDefault("storage.calltimeout", 10*time.Second)
	v.SetDefault("aws.accesskeyid", "")
	v.SetDefault("aws.secretaccesskey", "")
	v.SetDefault("aws.sessiontoken", "")
	v.SetDefault("aws.expiry", "")
	v.SetDefault("auth.jwtsecret", "")

	v.SetConfigName("config")
	v.AddConfigPath(".")
	_ = v.ReadInConfig() // optional file

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return cfg, nil
}

// CredentialExpiry parses the configured session-credential expiry.
func (c Config) CredentialExpiry() (time.Time, error) {
	if strings.TrimSpace(c.AWS.Expiry) == "" {
		return time.Time{}, fmt.Errorf("aws credential expiry is required")
	}
	expiry, err := time.Parse(time.RFC3339, c.AWS.Expiry)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse aws credential expiry: %w", err)
	}
	return expiry, nil
}

func loadDotEnv() {
	file, err := os.Open(".env")
	if err != nil {
		return
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		partsIndex := strings.Index(line, "=")
		if partsIndex <= 0 {
			continue
		}

		key := strings.TrimSpace(line[:partsIndex])
		value := strings.TrimSpace(line[partsIndex+1:])
		value = strings.Trim(value, `"'`)
		if key == "" {
			continue
		}

		if _, exists := os.LookupEnv(key); !exists {
			_ = os.Setenv(key, value)
		}
	}
}
