// Package api exposes the ledger over HTTP: a public query surface for
// liquidation bots and wallets, and an internal surface for the emission
// scheduler and price feeder jobs.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/synthlabs/synth-ledger/collateral"
	"github.com/synthlabs/synth-ledger/common/logging"
	"github.com/synthlabs/synth-ledger/mint"
	"github.com/synthlabs/synth-ledger/oracle"
	"github.com/synthlabs/synth-ledger/staking"
)

// Engines bundles the ledgers the servers operate on.
type Engines struct {
	Mint       *mint.Ledger
	Collateral *collateral.Ledger
	Staking    *staking.Ledger
	Oracle     *oracle.Oracle
}

type LedgerServer struct {
	ctx     context.Context
	logger  logging.Logger
	engines Engines
	server  *http.Server
}

type PositionResp struct {
	Index            uint64 `json:"index"`
	Owner            string `json:"owner"`
	CollateralAsset  string `json:"collateral_asset"`
	CollateralAmount string `json:"collateral_amount"`
	SyntheticAsset   string `json:"synthetic_asset"`
	SyntheticAmount  string `json:"synthetic_amount"`
}

type StakeResp struct {
	Asset           string `json:"asset"`
	StakingToken    string `json:"staking_token"`
	TotalStaked     string `json:"total_staked"`
	RewardIndex     string `json:"reward_index"`
	PendingReward   string `json:"pending_reward"`
	StakingAmount   string `json:"staking_amount,omitempty"`
	AccruedReward   string `json:"accrued_reward,omitempty"`
	SettledReward   string `json:"settled_reward,omitempty"`
	ClaimableReward string `json:"claimable_reward,omitempty"`
}

type UnlockedResp struct {
	Account  string `json:"account"`
	Asset    string `json:"asset"`
	Amount   string `json:"amount"`
	Unlocked string `json:"unlocked"`
}

type PriceResp struct {
	Asset     string `json:"asset"`
	Price     string `json:"price"`
	UpdatedAt int64  `json:"updated_at"`
}

func NewLedgerServer(ctx context.Context, logger logging.Logger, addr string,
	engines Engines) *LedgerServer {
	s := &LedgerServer{
		ctx:     ctx,
		logger:  logger,
		engines: engines,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/positions", s.OnQueryPositions)
	mux.HandleFunc("/positions/invalid", s.OnQueryInvalidPositions)
	mux.HandleFunc("/stake", s.OnQueryStake)
	mux.HandleFunc("/unlocked", s.OnQueryUnlocked)
	mux.HandleFunc("/price", s.OnQueryPrice)
	s.server = &http.Server{
		Addr:         addr,
		WriteTimeout: time.Second * 25,
		Handler:      mux,
	}
	return s
}

func (s *LedgerServer) Shutdown() error {
	return s.server.Shutdown(s.ctx)
}

func (s *LedgerServer) Run() error {
	s.logger.Info("Starting ledger api httpserver")
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
	s.logger.Info("Ledger api server receives shutdown signal.")
	return nil
}

func (s *LedgerServer) OnQueryPositions(w http.ResponseWriter, r *http.Request) {
	defer s.recoverHandler(w)
	if r.Method != "GET" {
		s.jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Access-Control-Allow-Origin", "*")

	owner, ok := s.queryAddress(w, r, "owner")
	if !ok {
		return
	}
	positions := s.engines.Mint.QueryAllPositions(owner)
	resp := make([]PositionResp, len(positions))
	for i, pos := range positions {
		resp[i] = positionResp(pos)
	}
	json.NewEncoder(w).Encode(resp)
}

func (s *LedgerServer) OnQueryInvalidPositions(w http.ResponseWriter, r *http.Request) {
	defer s.recoverHandler(w)
	if r.Method != "GET" {
		s.jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Access-Control-Allow-Origin", "*")

	asset, ok := s.queryAddress(w, r, "asset")
	if !ok {
		return
	}
	positions := s.engines.Mint.QueryInvalidPositions(asset)
	resp := make([]PositionResp, len(positions))
	for i, pos := range positions {
		resp[i] = positionResp(pos)
	}
	json.NewEncoder(w).Encode(resp)
}

func (s *LedgerServer) OnQueryStake(w http.ResponseWriter, r *http.Request) {
	defer s.recoverHandler(w)
	if r.Method != "GET" {
		s.jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Access-Control-Allow-Origin", "*")

	asset, ok := s.queryAddress(w, r, "asset")
	if !ok {
		return
	}
	pool := s.engines.Staking.QueryStake(asset)
	resp := StakeResp{
		Asset:         asset.Hex(),
		StakingToken:  pool.StakingToken.Hex(),
		TotalStaked:   pool.TotalStaked.String(),
		RewardIndex:   pool.RewardIndex.String(),
		PendingReward: pool.PendingReward.String(),
	}
	if accounts := r.URL.Query()["account"]; len(accounts) > 0 {
		if !common.IsHexAddress(accounts[0]) {
			s.jsonError(w, "invalid account", http.StatusBadRequest)
			return
		}
		item := s.engines.Staking.QueryUserStakingItem(common.HexToAddress(accounts[0]), asset)
		resp.StakingAmount = item.StakingAmount.String()
		resp.AccruedReward = item.AccruedReward.String()
		resp.SettledReward = item.SettledReward.String()
		resp.ClaimableReward = item.ClaimableReward.String()
	}
	json.NewEncoder(w).Encode(resp)
}

func (s *LedgerServer) OnQueryUnlocked(w http.ResponseWriter, r *http.Request) {
	defer s.recoverHandler(w)
	if r.Method != "GET" {
		s.jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Access-Control-Allow-Origin", "*")

	account, ok := s.queryAddress(w, r, "account")
	if !ok {
		return
	}
	asset, ok := s.queryAddress(w, r, "asset")
	if !ok {
		return
	}
	amount, _ := s.engines.Collateral.QueryDeposit(account, asset)
	json.NewEncoder(w).Encode(UnlockedResp{
		Account:  account.Hex(),
		Asset:    asset.Hex(),
		Amount:   amount.String(),
		Unlocked: s.engines.Collateral.QueryUnlockedAmount(account, asset).String(),
	})
}

func (s *LedgerServer) OnQueryPrice(w http.ResponseWriter, r *http.Request) {
	defer s.recoverHandler(w)
	if r.Method != "GET" {
		s.jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Access-Control-Allow-Origin", "*")

	asset, ok := s.queryAddress(w, r, "asset")
	if !ok {
		return
	}
	price, updatedAt, err := s.engines.Oracle.QueryPrice(asset)
	if err != nil {
		s.jsonError(w, err.Error(), http.StatusNotFound)
		return
	}
	json.NewEncoder(w).Encode(PriceResp{
		Asset:     asset.Hex(),
		Price:     price.String(),
		UpdatedAt: updatedAt,
	})
}

func (s *LedgerServer) queryAddress(w http.ResponseWriter, r *http.Request,
	name string) (common.Address, bool) {
	values := r.URL.Query()[name]
	if len(values) == 0 || !common.IsHexAddress(values[0]) {
		s.jsonError(w, "invalid "+name, http.StatusBadRequest)
		return common.Address{}, false
	}
	return common.HexToAddress(values[0]), true
}

func (s *LedgerServer) recoverHandler(w http.ResponseWriter) {
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

func (s *LedgerServer) jsonError(w http.ResponseWriter, err interface{}, code int) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]interface{}{"error": err})
}

func positionResp(pos mint.Position) PositionResp {
	return PositionResp{
		Index:            pos.Index,
		Owner:            pos.Owner.Hex(),
		CollateralAsset:  pos.CollateralAsset.Hex(),
		CollateralAmount: pos.CollateralAmount.String(),
		SyntheticAsset:   pos.SyntheticAsset.Hex(),
		SyntheticAmount:  pos.SyntheticAmount.String(),
	}
}
