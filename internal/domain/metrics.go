package domain

// SystemMetrics is the payload emitted by `lcars-metrics metrics`.
type SystemMetrics struct {
	CPUUsage           float64 `json:"cpu_usage"`
	CPUBrand           string  `json:"cpu_brand"`
	MemoryTotal        float64 `json:"memory_total"`
	MemoryUsed         float64 `json:"memory_used"`
	MemoryUsagePercent float64 `json:"memory_usage_percent"`
	DiskTotal          uint64  `json:"disk_total"`
	DiskUsed           uint64  `json:"disk_used"`
	DiskUsagePercent   float64 `json:"disk_usage_percent"`
	NetworkRxBytes     uint64  `json:"network_rx_bytes"`
	NetworkTxBytes     uint64  `json:"network_tx_bytes"`
	UptimeSeconds      uint64  `json:"uptime_seconds"`
	BatteryPercent     float64 `json:"battery_percent"`
	BatteryCharging    bool    `json:"battery_charging"`
	ThermalPressure    string  `json:"thermal_pressure"`
}

// CommsStatus is the payload emitted by `lcars-metrics comms`.
type CommsStatus struct {
	WiFi              string   `json:"wifi"`
	BluetoothEnabled  bool     `json:"bluetooth_enabled"`
	BluetoothDevices  []string `json:"bluetooth_devices"`
	VolumePercent     int      `json:"volume_percent"`
	BrightnessPercent int      `json:"brightness_percent"`
}
