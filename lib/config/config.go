package config

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/go-gnutella/go-gnutella/lib/util"
	"github.com/go-gnutella/go-gnutella/lib/util/logger"
	"github.com/spf13/viper"
)

var (
	CfgFile string
	log     = logger.GetLogger()
)

const GNUTELLA_BASE_DIR = ".go-gnutella"

func InitConfig() {
	if CfgFile != "" {
		viper.SetConfigFile(CfgFile)
	} else {
		viper.AddConfigPath(BuildGnutellaDirPath())
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	setDefaults()
	handleConfigFile()
}

func setDefaults() {
	d := Defaults()

	viper.SetDefault("message.max_length", d.Message.MaxLength)
	viper.SetDefault("message.soft_max", d.Message.SoftMax)

	viper.SetDefault("query.max_length", d.Query.MaxLength)
	viper.SetDefault("query.max_xml_length", d.Query.MaxXMLLength)
	viper.SetDefault("query.illegal_chars", d.Query.IllegalChars)

	viper.SetDefault("reply.max_responses", d.Reply.MaxResponses)
	viper.SetDefault("reply.per_reply", d.Reply.PerReply)

	viper.SetDefault("locale.language", d.Locale.Language)

	viper.SetDefault("search.partial_results", d.Search.PartialResults)
	viper.SetDefault("search.desire_nms1", d.Search.DesireNMS1)

	viper.SetDefault("listen.address", d.Listen.Address)
	viper.SetDefault("listen.metrics_address", d.Listen.MetricsAddress)
	viper.SetDefault("listen.bad_packet_log_rate", d.Listen.BadPacketLogRate)
}

// CurrentConfig reads every setting from viper. Keys must match setDefaults.
func CurrentConfig() CodecConfig {
	return CodecConfig{
		Message: MessageConfig{
			MaxLength: viper.GetInt("message.max_length"),
			SoftMax:   viper.GetInt("message.soft_max"),
		},
		Query: QueryConfig{
			MaxLength:    viper.GetInt("query.max_length"),
			MaxXMLLength: viper.GetInt("query.max_xml_length"),
			IllegalChars: viper.GetString("query.illegal_chars"),
		},
		Reply: ReplyConfig{
			MaxResponses: viper.GetInt("reply.max_responses"),
			PerReply:     viper.GetInt("reply.per_reply"),
		},
		Locale: LocaleConfig{
			Language: viper.GetString("locale.language"),
		},
		Search: SearchConfig{
			PartialResults: viper.GetBool("search.partial_results"),
			DesireNMS1:     viper.GetBool("search.desire_nms1"),
		},
		Listen: ListenConfig{
			Address:          viper.GetString("listen.address"),
			MetricsAddress:   viper.GetString("listen.metrics_address"),
			BadPacketLogRate: viper.GetFloat64("listen.bad_packet_log_rate"),
		},
	}
}

func createDefaultConfig(defaultConfigDir string) {
	defaultConfigFile := filepath.Join(defaultConfigDir, "config.yaml")
	if err := os.MkdirAll(defaultConfigDir, 0o755); err != nil {
		log.Fatalf("Could not create config directory: %s", err)
	}
	if err := viper.SafeWriteConfigAs(defaultConfigFile); err != nil {
		log.Fatalf("Could not write default config file: %s", err)
	}
	log.WithField("path", defaultConfigFile).Debug("created_default_config")
}

func handleConfigFile() {
	err := viper.ReadInConfig()
	if err == nil {
		log.WithField("path", viper.ConfigFileUsed()).Debug("using_config_file")
		return
	}
	var notFound viper.ConfigFileNotFoundError
	if !errors.As(err, &notFound) {
		log.Fatalf("Error reading config file: %s", err)
	}
	if CfgFile != "" {
		log.Fatalf("Config file %s is not found: %s", CfgFile, err)
	}
	createDefaultConfig(BuildGnutellaDirPath())
}

func BuildGnutellaDirPath() string {
	return filepath.Join(util.UserHome(), GNUTELLA_BASE_DIR)
}
