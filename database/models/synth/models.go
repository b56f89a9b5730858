package synth

import "github.com/synthlabs/synth-ledger/database/models"

// AllModels collects available models.
var AllModels = []interface{}{
	&models.System{},

	&Position{},
	&AssetConfig{},
	&Deposit{},
	&UnlockSpeed{},
	&StakePool{},
	&StakerPosition{},
	&PriceFeed{},
}
