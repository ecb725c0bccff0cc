package ggep

// Well-known extension keys.
const (
	KEY_BROWSE_HOST               = "BH"
	KEY_DAILY_AVERAGE_UPTIME      = "DU"
	KEY_UNICAST_SUPPORT           = "GUE"
	KEY_VENDOR                    = "VC"
	KEY_UP_SUPPORT                = "UP"
	KEY_QUERY_KEY_SUPPORT         = "QK"
	KEY_MULTICAST_RESPONSE        = "MCAST"
	KEY_PUSH_PROXY                = "PUSH"
	KEY_PUSH_PROXY_TLS            = "PUSH_TLS"
	KEY_ALTS                      = "ALT"
	KEY_ALTS_TLS                  = "ALT_TLS"
	KEY_IP_PORT                   = "IP"
	KEY_UDP_HOST_CACHE            = "UDPHC"
	KEY_PACKED_IP_PORTS           = "IPP"
	KEY_PACKED_IP_PORTS_TLS       = "IPP_TLS"
	KEY_PACKED_HOSTCACHES         = "PHC"
	KEY_TTROOT                    = "TT"
	KEY_FW_TRANSFER               = "FW"
	KEY_CREATE_TIME               = "CT"
	KEY_FEATURE_QUERY             = "WH"
	KEY_NO_PROXY                  = "NP"
	KEY_CLIENT_LOCALE             = "LOC"
	KEY_LARGE_FILE                = "LF"
	KEY_DHT_SUPPORT               = "DHT"
	KEY_DHT_IPPORTS               = "DHTIPP"
	KEY_SECURE_OOB                = "SO"
	KEY_SECURE_BLOCK              = "SB"
	KEY_SIGNATURE                 = "SIG"
	KEY_TLS_SUPPORT               = "TLS"
	KEY_META                      = "M"
	KEY_PARTIAL_RESULT            = "PR"
	KEY_PARTIAL_RESULT_UNVERIFIED = "PRU"
	KEY_NMS1                      = "NM"
	KEY_EXTENDED_QUERY            = "XQ"
	KEY_SUPPORT_CACHE_PONGS       = "SCP"
	KEY_RETURN_PATH_ME            = "RPI"
	KEY_RETURN_PATH_SOURCE        = "RPS"
	KEY_RETURN_PATH_HOPS          = "RPH"
	KEY_RETURN_PATH_TTL           = "RPT"
)
