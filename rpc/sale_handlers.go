package rpc

import (
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"

	"tokensale/native/sale"
)

type buyRequest struct {
	Plan         uint32 `json:"plan"`
	Asset        string `json:"asset"`
	Buyer        string `json:"buyer"`
	Amount       string `json:"amount"`
	MinTokensOut string `json:"minTokensOut,omitempty"`
}

type purchaseResponse struct {
	Plan           uint32            `json:"plan"`
	Buyer          string            `json:"buyer"`
	PurchaseTime   int64             `json:"purchaseTime"`
	AmountSpent    map[string]string `json:"amountSpent"`
	TokensReceived string            `json:"tokensReceived"`
	Claimed        bool              `json:"claimed"`
}

type claimRequest struct {
	Plan  uint32 `json:"plan"`
	Buyer string `json:"buyer"`
}

type planPayload struct {
	DiscountBps  uint32 `json:"discountBps"`
	BonusBps     uint32 `json:"bonusBps"`
	StartTime    int64  `json:"startTime"`
	EndTime      int64  `json:"endTime"`
	LockDuration int64  `json:"lockDuration"`
}

type planResponse struct {
	planPayload
	ID             uint32 `json:"id"`
	TotalInvestors uint64 `json:"totalInvestors"`
	TokensSold     string `json:"tokensSold"`
}

type assetPayload struct {
	Symbol     string `json:"symbol"`
	Supported  bool   `json:"supported"`
	MinPerUser string `json:"minPerUser"`
	MaxPerUser string `json:"maxPerUser"`
	HardCap    string `json:"hardCap"`
}

type assetResponse struct {
	assetPayload
	Asset       string `json:"asset"`
	TotalRaised string `json:"totalRaised"`
}

type sweepRequest struct {
	Asset     string `json:"asset"`
	Recipient string `json:"recipient"`
	Amount    string `json:"amount"`
}

func parseAddress(raw string) ([20]byte, error) {
	if !common.IsHexAddress(raw) {
		return [20]byte{}, fmt.Errorf("invalid address %q", raw)
	}
	return common.HexToAddress(raw), nil
}

func parseAmount(raw string) (*big.Int, error) {
	if raw == "" {
		return big.NewInt(0), nil
	}
	amount, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", raw)
	}
	return amount, nil
}

func decodeBody(r *http.Request, out interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(out)
}

func renderPurchase(p *sale.Purchase) purchaseResponse {
	spends := make(map[string]string, len(p.AmountSpent))
	for asset, amt := range p.AmountSpent {
		spends[common.Address(asset).Hex()] = amt.String()
	}
	return purchaseResponse{
		Plan:           p.PlanID,
		Buyer:          common.Address(p.Buyer).Hex(),
		PurchaseTime:   p.PurchaseTime,
		AmountSpent:    spends,
		TokensReceived: p.TokensReceived.String(),
		Claimed:        p.Claimed,
	}
}

func (s *Server) handleBuy(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req buyRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "BadRequest", err.Error())
		return
	}
	buyer, err := parseAddress(req.Buyer)
	if err != nil {
		writeError(w, http.StatusBadRequest, "BadRequest", err.Error())
		return
	}
	asset, err := parseAddress(req.Asset)
	if err != nil {
		writeError(w, http.StatusBadRequest, "BadRequest", err.Error())
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "BadRequest", err.Error())
		return
	}
	minOut, err := parseAmount(req.MinTokensOut)
	if err != nil {
		writeError(w, http.StatusBadRequest, "BadRequest", err.Error())
		return
	}

	purchase, err := s.engine.Buy(buyer, req.Plan, asset, amount, minOut)
	s.metrics.Observe("buy", start, err, sale.Code(err))
	if err != nil {
		s.logger.Warn("buy rejected", "plan", req.Plan, "buyer", req.Buyer, "code", sale.Code(err))
		writeSaleError(w, err)
		return
	}
	s.logger.Info("purchase accepted",
		"plan", req.Plan, "buyer", req.Buyer, "asset", req.Asset,
		"amount", amount.String(), "tokens", purchase.TokensReceived.String())
	writeJSON(w, http.StatusOK, renderPurchase(purchase))
}

func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req claimRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "BadRequest", err.Error())
		return
	}
	buyer, err := parseAddress(req.Buyer)
	if err != nil {
		writeError(w, http.StatusBadRequest, "BadRequest", err.Error())
		return
	}

	payout, err := s.engine.Claim(buyer, req.Plan)
	s.metrics.Observe("claim", start, err, sale.Code(err))
	if err != nil {
		s.logger.Warn("claim rejected", "plan", req.Plan, "buyer", req.Buyer, "code", sale.Code(err))
		writeSaleError(w, err)
		return
	}
	s.logger.Info("claim released", "plan", req.Plan, "buyer", req.Buyer, "payout", payout.String())
	writeJSON(w, http.StatusOK, map[string]string{"payout": payout.String()})
}

func planIDParam(r *http.Request) (uint32, error) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid plan id")
	}
	return uint32(id), nil
}

func (s *Server) handleGetPlan(w http.ResponseWriter, r *http.Request) {
	id, err := planIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "BadRequest", err.Error())
		return
	}
	plan, err := s.engine.Plan(id)
	if err != nil {
		writeSaleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, planResponse{
		planPayload: planPayload{
			DiscountBps:  plan.DiscountBps,
			BonusBps:     plan.BonusBps,
			StartTime:    plan.StartTime,
			EndTime:      plan.EndTime,
			LockDuration: plan.LockDuration,
		},
		ID:             plan.ID,
		TotalInvestors: plan.TotalInvestors,
		TokensSold:     plan.TokensSold.String(),
	})
}

func (s *Server) handleGetAsset(w http.ResponseWriter, r *http.Request) {
	asset, err := parseAddress(chi.URLParam(r, "asset"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "BadRequest", err.Error())
		return
	}
	def, err := s.engine.Asset(asset)
	if err != nil {
		writeSaleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, assetResponse{
		assetPayload: assetPayload{
			Symbol:     def.Symbol,
			Supported:  def.Supported,
			MinPerUser: def.MinPerUser.String(),
			MaxPerUser: def.MaxPerUser.String(),
			HardCap:    def.HardCap.String(),
		},
		Asset:       common.Address(def.Asset).Hex(),
		TotalRaised: def.TotalRaised.String(),
	})
}

func (s *Server) handleGetPurchase(w http.ResponseWriter, r *http.Request) {
	id, err := planIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "BadRequest", err.Error())
		return
	}
	buyer, err := parseAddress(chi.URLParam(r, "buyer"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "BadRequest", err.Error())
		return
	}
	purchase, err := s.engine.Purchase(id, buyer)
	if err != nil {
		writeSaleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, renderPurchase(purchase))
}

func (s *Server) handleSetPlan(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	id, err := planIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "BadRequest", err.Error())
		return
	}
	var req planPayload
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "BadRequest", err.Error())
		return
	}
	err = s.engine.SetPlan(s.adminCap, &sale.Plan{
		ID:           id,
		DiscountBps:  req.DiscountBps,
		BonusBps:     req.BonusBps,
		StartTime:    req.StartTime,
		EndTime:      req.EndTime,
		LockDuration: req.LockDuration,
	})
	s.metrics.Observe("set_plan", start, err, sale.Code(err))
	if err != nil {
		writeSaleError(w, err)
		return
	}
	s.logger.Info("plan updated", "plan", id)
	writeJSON(w, http.StatusOK, map[string]uint32{"plan": id})
}

func (s *Server) handleSetAsset(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	asset, err := parseAddress(chi.URLParam(r, "asset"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "BadRequest", err.Error())
		return
	}
	var req assetPayload
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "BadRequest", err.Error())
		return
	}
	minPerUser, err := parseAmount(req.MinPerUser)
	if err != nil {
		writeError(w, http.StatusBadRequest, "BadRequest", err.Error())
		return
	}
	maxPerUser, err := parseAmount(req.MaxPerUser)
	if err != nil {
		writeError(w, http.StatusBadRequest, "BadRequest", err.Error())
		return
	}
	hardCap, err := parseAmount(req.HardCap)
	if err != nil {
		writeError(w, http.StatusBadRequest, "BadRequest", err.Error())
		return
	}
	err = s.engine.SetAsset(s.adminCap, &sale.PaymentAsset{
		Asset:      asset,
		Symbol:     req.Symbol,
		Supported:  req.Supported,
		MinPerUser: minPerUser,
		MaxPerUser: maxPerUser,
		HardCap:    hardCap,
	})
	s.metrics.Observe("set_asset", start, err, sale.Code(err))
	if err != nil {
		writeSaleError(w, err)
		return
	}
	s.logger.Info("asset updated", "asset", common.Address(asset).Hex())
	writeJSON(w, http.StatusOK, map[string]string{"asset": common.Address(asset).Hex()})
}

func (s *Server) handleGetBalance(w http.ResponseWriter, r *http.Request) {
	owner, err := parseAddress(chi.URLParam(r, "owner"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "BadRequest", err.Error())
		return
	}
	asset, err := parseAddress(chi.URLParam(r, "asset"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "BadRequest", err.Error())
		return
	}
	balance, err := s.custody.Balance(owner, asset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Internal", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"balance": balance.String()})
}

type fundRequest struct {
	Owner  string `json:"owner"`
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
}

// handleFund credits book-entry balances directly. It stands in for the
// external deposit rails a token-contract custody would have.
func (s *Server) handleFund(w http.ResponseWriter, r *http.Request) {
	var req fundRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "BadRequest", err.Error())
		return
	}
	owner, err := parseAddress(req.Owner)
	if err != nil {
		writeError(w, http.StatusBadRequest, "BadRequest", err.Error())
		return
	}
	asset, err := parseAddress(req.Asset)
	if err != nil {
		writeError(w, http.StatusBadRequest, "BadRequest", err.Error())
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "BadRequest", err.Error())
		return
	}
	if err := s.custody.Mint(owner, asset, amount); err != nil {
		writeError(w, http.StatusBadRequest, "BadRequest", err.Error())
		return
	}
	s.logger.Info("account funded", "owner", req.Owner, "asset", req.Asset, "amount", amount.String())
	writeJSON(w, http.StatusOK, map[string]string{"amount": amount.String()})
}

func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req sweepRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "BadRequest", err.Error())
		return
	}
	asset, err := parseAddress(req.Asset)
	if err != nil {
		writeError(w, http.StatusBadRequest, "BadRequest", err.Error())
		return
	}
	recipient, err := parseAddress(req.Recipient)
	if err != nil {
		writeError(w, http.StatusBadRequest, "BadRequest", err.Error())
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "BadRequest", err.Error())
		return
	}
	err = s.engine.Sweep(s.adminCap, asset, recipient, amount)
	s.metrics.Observe("sweep", start, err, sale.Code(err))
	if err != nil {
		writeSaleError(w, err)
		return
	}
	s.logger.Info("custody swept", "asset", req.Asset, "recipient", req.Recipient, "amount", amount.String())
	writeJSON(w, http.StatusOK, map[string]string{"amount": amount.String()})
}
