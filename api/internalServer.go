package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/synthlabs/synth-ledger/common/logging"
)

// InternalServer is the boundary for the off-ledger jobs: the emission
// scheduler deposits rewards, the price feeder pushes fresh prices, and the
// listing job registers new markets. It holds the privileged identities, so
// it must never be exposed publicly.
type InternalServer struct {
	ctx     context.Context
	logger  logging.Logger
	engines Engines
	server  *http.Server

	owner   common.Address
	factory common.Address
	feeder  common.Address
}

func NewInternalServer(ctx context.Context, logger logging.Logger, addr string,
	engines Engines, owner, factory, feeder common.Address) *InternalServer {
	s := &InternalServer{
		ctx:     ctx,
		logger:  logger,
		engines: engines,
		owner:   owner,
		factory: factory,
		feeder:  feeder,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/healthCheckup", s.OnQueryHealthCheckup)
	mux.HandleFunc("/depositReward", s.OnDepositReward)
	mux.HandleFunc("/feedPrice", s.OnFeedPrice)
	mux.HandleFunc("/updateAsset", s.OnUpdateAsset)
	mux.HandleFunc("/registerOracleAsset", s.OnRegisterOracleAsset)
	mux.HandleFunc("/registerStakePool", s.OnRegisterStakePool)
	mux.HandleFunc("/updateUnlockSpeed", s.OnUpdateUnlockSpeed)
	mux.HandleFunc("/updateCollateralMapping", s.OnUpdateCollateralMapping)
	mux.HandleFunc("/updateClaimInterval", s.OnUpdateClaimInterval)
	s.server = &http.Server{
		Addr:         addr,
		WriteTimeout: time.Second * 25,
		Handler:      mux,
	}
	return s
}

func (s *InternalServer) OnQueryHealthCheckup(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
	resp := make(map[string]string)
	resp["message"] = "alive"
	json.NewEncoder(w).Encode(resp)
}

func (s *InternalServer) Shutdown() error {
	return s.server.Shutdown(s.ctx)
}

func (s *InternalServer) Run() error {
	s.logger.Info("Starting ledger internal httpserver")
	go func() {
		err := s.server.ListenAndServe()
		if err != nil {
			if err == http.ErrServerClosed {
				s.logger.Critical("Server closed under request")
			} else {
				s.logger.Critical("Server closed unexpected", err)
			}
		}
	}()

	<-s.ctx.Done()
	s.logger.Info("Internal server receives shutdown signal.")
	return nil
}

// OnDepositReward lets the emission scheduler push a reward into a pool.
func (s *InternalServer) OnDepositReward(w http.ResponseWriter, r *http.Request) {
	defer s.recoverHandler(w)
	if r.Method != "POST" {
		s.jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Access-Control-Allow-Origin", "*")

	asset, ok := s.queryAddress(w, r, "asset")
	if !ok {
		return
	}
	amount, ok := s.queryDecimal(w, r, "amount")
	if !ok {
		return
	}
	if err := s.engines.Staking.DepositReward(s.factory, asset, amount); err != nil {
		s.logger.Warn("depositReward asset=%s amount=%s err=%s", asset.Hex(), amount, err)
		s.jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.logger.Info("depositReward asset=%s amount=%s", asset.Hex(), amount)
	json.NewEncoder(w).Encode(map[string]string{"message": "ok"})
}

// OnFeedPrice lets the price feeder job push a fresh price.
func (s *InternalServer) OnFeedPrice(w http.ResponseWriter, r *http.Request) {
	defer s.recoverHandler(w)
	if r.Method != "POST" {
		s.jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Access-Control-Allow-Origin", "*")

	asset, ok := s.queryAddress(w, r, "asset")
	if !ok {
		return
	}
	price, ok := s.queryDecimal(w, r, "price")
	if !ok {
		return
	}
	if err := s.engines.Oracle.FeedPrice(s.feeder, asset, price); err != nil {
		s.logger.Warn("feedPrice asset=%s price=%s err=%s", asset.Hex(), price, err)
		s.jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	json.NewEncoder(w).Encode(map[string]string{"message": "ok"})
}

// OnUpdateAsset lets the registry job adjust an asset's risk config.
func (s *InternalServer) OnUpdateAsset(w http.ResponseWriter, r *http.Request) {
	defer s.recoverHandler(w)
	if r.Method != "POST" {
		s.jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Access-Control-Allow-Origin", "*")

	asset, ok := s.queryAddress(w, r, "asset")
	if !ok {
		return
	}
	discount, ok := s.queryDecimal(w, r, "auctionDiscount")
	if !ok {
		return
	}
	minRatio, ok := s.queryDecimal(w, r, "minCollateralRatio")
	if !ok {
		return
	}
	if err := s.engines.Mint.UpdateAsset(s.factory, asset, discount, minRatio); err != nil {
		s.logger.Warn("updateAsset asset=%s err=%s", asset.Hex(), err)
		s.jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.logger.Info("updateAsset asset=%s discount=%s minRatio=%s", asset.Hex(), discount, minRatio)
	json.NewEncoder(w).Encode(map[string]string{"message": "ok"})
}

// OnRegisterOracleAsset authorizes the feeder for a new asset. Until this is
// called, feeding and pricing that asset fail.
func (s *InternalServer) OnRegisterOracleAsset(w http.ResponseWriter, r *http.Request) {
	defer s.recoverHandler(w)
	if r.Method != "POST" {
		s.jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Access-Control-Allow-Origin", "*")

	asset, ok := s.queryAddress(w, r, "asset")
	if !ok {
		return
	}
	feeder := s.feeder
	if values := r.URL.Query()["feeder"]; len(values) > 0 {
		if !common.IsHexAddress(values[0]) {
			s.jsonError(w, "invalid feeder", http.StatusBadRequest)
			return
		}
		feeder = common.HexToAddress(values[0])
	}
	if err := s.engines.Oracle.RegisterAsset(s.owner, asset, feeder); err != nil {
		s.logger.Warn("registerOracleAsset asset=%s err=%s", asset.Hex(), err)
		s.jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.logger.Info("registerOracleAsset asset=%s feeder=%s", asset.Hex(), feeder.Hex())
	json.NewEncoder(w).Encode(map[string]string{"message": "ok"})
}

// OnRegisterStakePool opens a reward pool for an asset. Omitting the
// stakingToken parameter registers a self-staking pool.
func (s *InternalServer) OnRegisterStakePool(w http.ResponseWriter, r *http.Request) {
	defer s.recoverHandler(w)
	if r.Method != "POST" {
		s.jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Access-Control-Allow-Origin", "*")

	asset, ok := s.queryAddress(w, r, "asset")
	if !ok {
		return
	}
	var stakingToken common.Address
	if values := r.URL.Query()["stakingToken"]; len(values) > 0 {
		if !common.IsHexAddress(values[0]) {
			s.jsonError(w, "invalid stakingToken", http.StatusBadRequest)
			return
		}
		stakingToken = common.HexToAddress(values[0])
	}
	if err := s.engines.Staking.RegisterAsset(s.factory, asset, stakingToken); err != nil {
		s.logger.Warn("registerStakePool asset=%s err=%s", asset.Hex(), err)
		s.jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.logger.Info("registerStakePool asset=%s stakingToken=%s", asset.Hex(), stakingToken.Hex())
	json.NewEncoder(w).Encode(map[string]string{"message": "ok"})
}

// OnUpdateUnlockSpeed configures the collateral lock's unlock speed for an
// asset, enabling deposits of it.
func (s *InternalServer) OnUpdateUnlockSpeed(w http.ResponseWriter, r *http.Request) {
	defer s.recoverHandler(w)
	if r.Method != "POST" {
		s.jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Access-Control-Allow-Origin", "*")

	asset, ok := s.queryAddress(w, r, "asset")
	if !ok {
		return
	}
	speed, ok := s.queryDecimal(w, r, "speed")
	if !ok {
		return
	}
	if err := s.engines.Collateral.UpdateUnlockSpeed(s.owner, asset, speed); err != nil {
		s.logger.Warn("updateUnlockSpeed asset=%s err=%s", asset.Hex(), err)
		s.jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.logger.Info("updateUnlockSpeed asset=%s speed=%s", asset.Hex(), speed)
	json.NewEncoder(w).Encode(map[string]string{"message": "ok"})
}

// OnUpdateCollateralMapping gates a pool's reward claims behind a collateral
// asset's unlock curve.
func (s *InternalServer) OnUpdateCollateralMapping(w http.ResponseWriter, r *http.Request) {
	defer s.recoverHandler(w)
	if r.Method != "POST" {
		s.jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Access-Control-Allow-Origin", "*")

	asset, ok := s.queryAddress(w, r, "asset")
	if !ok {
		return
	}
	collateralAsset, ok := s.queryAddress(w, r, "collateral")
	if !ok {
		return
	}
	err := s.engines.Staking.UpdateCollateralAssetMapping(s.owner,
		[]common.Address{asset}, []common.Address{collateralAsset})
	if err != nil {
		s.logger.Warn("updateCollateralMapping asset=%s err=%s", asset.Hex(), err)
		s.jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.logger.Info("updateCollateralMapping asset=%s collateral=%s", asset.Hex(), collateralAsset.Hex())
	json.NewEncoder(w).Encode(map[string]string{"message": "ok"})
}

// OnUpdateClaimInterval sets the minimum seconds between reward claims for a
// pool.
func (s *InternalServer) OnUpdateClaimInterval(w http.ResponseWriter, r *http.Request) {
	defer s.recoverHandler(w)
	if r.Method != "POST" {
		s.jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Access-Control-Allow-Origin", "*")

	asset, ok := s.queryAddress(w, r, "asset")
	if !ok {
		return
	}
	values := r.URL.Query()["interval"]
	if len(values) == 0 {
		s.jsonError(w, "missing interval", http.StatusBadRequest)
		return
	}
	interval, err := strconv.ParseInt(values[0], 10, 64)
	if err != nil || interval < 0 {
		s.jsonError(w, "invalid interval", http.StatusBadRequest)
		return
	}
	err = s.engines.Staking.UpdateClaimIntervals(s.owner,
		[]common.Address{asset}, []int64{interval})
	if err != nil {
		s.logger.Warn("updateClaimInterval asset=%s err=%s", asset.Hex(), err)
		s.jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.logger.Info("updateClaimInterval asset=%s interval=%d", asset.Hex(), interval)
	json.NewEncoder(w).Encode(map[string]string{"message": "ok"})
}

func (s *InternalServer) queryAddress(w http.ResponseWriter, r *http.Request,
	name string) (common.Address, bool) {
	values := r.URL.Query()[name]
	if len(values) == 0 || !common.IsHexAddress(values[0]) {
		s.jsonError(w, "invalid "+name, http.StatusBadRequest)
		return common.Address{}, false
	}
	return common.HexToAddress(values[0]), true
}

func (s *InternalServer) queryDecimal(w http.ResponseWriter, r *http.Request,
	name string) (decimal.Decimal, bool) {
	values := r.URL.Query()[name]
	if len(values) == 0 {
		s.jsonError(w, "missing "+name, http.StatusBadRequest)
		return decimal.Zero, false
	}
	value, err := decimal.NewFromString(values[0])
	if err != nil {
		s.jsonError(w, "invalid "+name, http.StatusBadRequest)
		return decimal.Zero, false
	}
	return value, true
}

func (s *InternalServer) recoverHandler(w http.ResponseWriter) {
	if r := recover(); r != nil {
		_, ok := r.(error)
		if !ok {
			err := fmt.Errorf("%v", r)
			s.logger.Error("recover err:%s", err)
			s.jsonError(w, "internal error.", 400)
			return
		}
	}
}

func (s *InternalServer) jsonError(w http.ResponseWriter, err interface{}, code int) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]interface{}{"error": err})
}
