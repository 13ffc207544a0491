package types

// Dynamic settings stored in the settings table/collection. These are read
// fresh on each operation so operators can flip them without a restart.
// Missing keys are auto-provisioned with their default value on first read.
const (
	// SettingPriceAPIKey is the market-data provider security token.
	SettingPriceAPIKey        = "ENTSOE_API_KEY"
	SettingPriceAPIKeyDefault = "ABC123"

	// SettingBlockRelayWrites blocks all relay control calls when set to "1".
	// Status reads still go through. Used for safe dry-run operation.
	SettingBlockRelayWrites        = "SHELLY_STOP_REST_DEBUG"
	SettingBlockRelayWritesDefault = "0"
)
