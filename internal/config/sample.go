package config

// Sample is printed by -print-config-sample.
const Sample = `nodename: raspberrypi

adapter: hci0

devices:
  - '00:11:22:33:44:55'
  - 'AA:BB:CC:DD:EE:FF'

scan_interval: 60

rssi_value_on_missing: -100

# seconds between starting discovery and the scan
discovery_wait: 5

# stop discovery after every scan (only works if we started it)
stop_discovery: false

mqtt:
  host: mqtt.local
  topic_prefix: 'blemqtt'

http:
  port: 8093

# redis:
#   addr: redis:6379
`
