package config

import (
	"flag"
	"net"
	"os"
	"strconv"
	"time"
)

// Config holds the line controller configuration
type Config struct {
	// Line device settings
	Channels          int
	InterdigitTimeout time.Duration
	PerPortContext    bool
	Simulate          bool

	// SIP gateway settings
	Port          int
	BindAddr      string // Address to bind for listening
	AdvertiseAddr string // Address to advertise in SIP headers and SDP

	// Codec preference for the line side: "ulaw" or "alaw"
	LineCodec string

	// Dialplan settings
	DialplanPath string // Path to dialplan.json config file

	LogLevel string
	LogFile  string // Optional log file, receives info and above
}

// Load loads configuration from command line flags and environment variables
func Load() *Config {
	cfg := &Config{}

	var interdigitMS int

	// Define flags
	flag.IntVar(&cfg.Channels, "channels", 2, "Number of analog line ports")
	flag.IntVar(&interdigitMS, "interdigit", 2000, "Inter-digit dial timeout in milliseconds")
	flag.BoolVar(&cfg.PerPortContext, "per-port-context", false, "Give each line its own dialplan context (fxs1..fxsN)")
	flag.BoolVar(&cfg.Simulate, "simulate", true, "Use the simulated line device")
	flag.IntVar(&cfg.Port, "port", 5060, "SIP listening port")
	flag.StringVar(&cfg.BindAddr, "bind", "0.0.0.0", "SIP bind address")
	flag.StringVar(&cfg.AdvertiseAddr, "advertise", "", "Address to advertise in SIP headers (auto-detected if not set)")
	flag.StringVar(&cfg.LineCodec, "codec", "ulaw", "Line-side codec preference (ulaw, alaw)")
	flag.StringVar(&cfg.DialplanPath, "dialplan", "resources/config/dialplan.json", "Path to dialplan configuration file")
	flag.StringVar(&cfg.LogLevel, "loglevel", "debug", "Log level (debug, info, warn, error)")
	flag.StringVar(&cfg.LogFile, "logfile", "", "Optional log file path (info and above)")

	flag.Parse()

	// Override with environment variables if set
	if channels := os.Getenv("CHANNELS"); channels != "" {
		if n, err := strconv.Atoi(channels); err == nil {
			cfg.Channels = n
		}
	}
	if interdigit := os.Getenv("INTERDIGIT_MS"); interdigit != "" {
		if n, err := strconv.Atoi(interdigit); err == nil {
			interdigitMS = n
		}
	}
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Port = p
		}
	}
	if bind := os.Getenv("BIND"); bind != "" {
		cfg.BindAddr = bind
	}
	if advertise := os.Getenv("ADVERTISE"); advertise != "" {
		cfg.AdvertiseAddr = advertise
	}
	// Validate and fallback to auto-detection if invalid
	if cfg.AdvertiseAddr == "" || !isValidAddress(cfg.AdvertiseAddr) {
		cfg.AdvertiseAddr = getPrimaryInterfaceIP()
	}
	if codec := os.Getenv("LINE_CODEC"); codec != "" {
		cfg.LineCodec = codec
	}
	if loglevel := os.Getenv("LOGLEVEL"); loglevel != "" {
		cfg.LogLevel = loglevel
	}
	if dialplanPath := os.Getenv("DIALPLAN_PATH"); dialplanPath != "" {
		cfg.DialplanPath = dialplanPath
	}

	cfg.InterdigitTimeout = time.Duration(interdigitMS) * time.Millisecond

	return cfg
}

// isValidAddress checks if the address is a valid IP or resolvable hostname
func isValidAddress(addr string) bool {
	// Check if it's a valid IP address
	if ip := net.ParseIP(addr); ip != nil {
		return true
	}
	// Try to resolve as hostname
	if ips, err := net.LookupIP(addr); err == nil && len(ips) > 0 {
		return true
	}
	return false
}

// getPrimaryInterfaceIP detects the primary network interface IP address
func getPrimaryInterfaceIP() string {
	interfaces, err := net.Interfaces()
	if err != nil {
		return "127.0.0.1"
	}

	for _, iface := range interfaces {
		if iface.Flags&net.FlagLoopback != 0 || iface.Flags&net.FlagUp == 0 {
			continue
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}

		for _, addr := range addrs {
			if ipnet, ok := addr.(*net.IPNet); ok && ipnet.IP.To4() != nil {
				return ipnet.IP.String()
			}
		}
	}

	return "127.0.0.1"
}
