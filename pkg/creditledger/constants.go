package creditledger

const (
	operationManualTopUp    = "manual_top_up"
	operationPromoRedeem    = "promo_redemption"
	operationGatewayTopUp   = "gateway_top_up"
	operationGatewayConfirm = "gateway_confirmation"
	operationMirror         = "mirror"
	operationPublish        = "publish"

	operationStatusOK    = "ok"
	operationStatusError = "error"

	topUpReferencePrefix = "TOPUP-"
	promoReferencePrefix = "PROMO-"
	gatewayOrderPrefix   = "KASH-"

	// DefaultPageSize matches the dashboard table page length.
	DefaultPageSize = 8

	utilizationCeiling = 999
	defaultPromoReward = 10
	loadLimit          = 500
)
