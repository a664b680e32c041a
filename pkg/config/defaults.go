package config

import "time"

// DefaultAMIConfig returns the built-in AMI connection defaults.
func DefaultAMIConfig() *AMIConfig {
	return &AMIConfig{
		Host:           "127.0.0.1",
		Port:           5038,
		Username:       "dialer",
		ConnectTimeout: 10 * time.Second,
		ActionTimeout:  15 * time.Second,
		KeepaliveEvery: 30 * time.Second,
		KeepaliveOn:    true,
	}
}

// DefaultDialerDefaults returns the built-in per-campaign pacing defaults.
func DefaultDialerDefaults() *DialerDefaults {
	return &DialerDefaults{
		MaxAttempts:        3,
		RetryDelayMinutes:  60,
		PredictiveRatio:    1.20,
		TurboDelaySeconds:  5,
		PredictiveInterval: 10 * time.Second,
		NoLeadsBackoff:     30 * time.Second,
		ShutdownBudget:     5 * time.Second,
	}
}

// DefaultHTTPConfig returns the built-in façade server defaults.
func DefaultHTTPConfig() *HTTPConfig {
	return &HTTPConfig{
		Port:    "8080",
		GinMode: "release",
	}
}
