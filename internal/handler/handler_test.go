package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/eidos-exchange/eidos/eidos-bridge/internal/blockchain"
	"github.com/eidos-exchange/eidos/eidos-bridge/internal/btc"
	"github.com/eidos-exchange/eidos/eidos-bridge/internal/config"
	"github.com/eidos-exchange/eidos/eidos-bridge/internal/handler"
	"github.com/eidos-exchange/eidos/eidos-bridge/internal/middleware"
	"github.com/eidos-exchange/eidos/eidos-bridge/internal/model"
	"github.com/eidos-exchange/eidos/eidos-bridge/internal/registry"
	"github.com/eidos-exchange/eidos/eidos-bridge/internal/repository"
	"github.com/eidos-exchange/eidos/eidos-bridge/internal/router"
	"github.com/eidos-exchange/eidos/eidos-bridge/internal/service"
	"github.com/eidos-exchange/eidos/eidos-bridge/pkg/lock"
)

const (
	testAdminKey = "test-admin-key"
	testBtcChain = "SIGNET"
	testEVMChain = "421614"
	testSender   = "tb1qw508d6qejxtdg4y5r3zarvary0c5xw7kxpjzsx"
	testChange   = "tb1qrp33g0q5c5txsp9arysrx4k6zdkfs4nce4xj0gdcccefvpysxf3q0sl5k7"
	testReceiver = "0xfb6916095ca1df60bb79ce92ce3ea74c37c5d359"
)

type nopSigner struct{}

func (nopSigner) RequestSignature(context.Context, *model.SigningRequest) error { return nil }

type nopLedger struct{}

func (nopLedger) Mint(context.Context, string, uint64, string) error { return nil }

// 集成测试环境
type testEnv struct {
	db     *gorm.DB
	engine *gin.Engine
}

var dbCounter int64

func setupTestEnv(t *testing.T) *testEnv {
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:bridgehttp%d?mode=memory&cache=shared", atomic.AddInt64(&dbCounter, 1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&model.DepositRecord{},
		&model.RedemptionRecord{},
		&model.BridgingRecord{},
		&model.ValidatorChain{},
		&model.Attestation{},
		&model.SigningRequest{},
		&model.SettlementBatch{},
	))
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	chainCfgs := []config.ChainConfig{
		{ChainID: testBtcChain, NetworkType: config.NetworkTypeBitcoin, ValidatorsThreshold: 2},
		{
			ChainID:             testEVMChain,
			NetworkType:         config.NetworkTypeEVM,
			ValidatorsThreshold: 2,
			AssetAddress:        "0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed",
			EVMChainID:          421614,
			MPCPath:             "bitcoin-1",
			GasLimit:            150000,
			MintingFee:          1000,
		},
	}
	chains := registry.NewChainRegistry(chainCfgs)
	params := registry.NewParamRegistry(config.BridgeConfig{
		BtcChainID:       testBtcChain,
		BtcNetwork:       "testnet3",
		TreasuryAddress:  testSender,
		ChangeAddress:    testChange,
		MPCContract:      "v1.signer-prod.testnet",
		KeyVersion:       1,
		MaxRetryCount:    2,
		DepositFeeBps:    20,
		RedemptionFeeBps: 20,
		BridgingFeeBps:   20,
		KeyDelimiter:     ",",
	})

	deposits := repository.NewDepositRepository(db)
	redemptions := repository.NewRedemptionRepository(db)
	bridgings := repository.NewBridgingRepository(db)
	auth := repository.NewAuthorizationRepository(db)
	requests := repository.NewSigningRepository(db)
	batches := repository.NewSettlementRepository(db)

	builder, err := btc.NewBuilder(btc.BuilderConfig{Network: "testnet3", ChangeAddress: testChange})
	require.NoError(t, err)
	oracle := blockchain.NewClient(chainCfgs, config.EVMConfig{DefaultGasLimit: 200000, MaxFeePerGasGwei: 50, TipCapGwei: 2})
	locker := lock.NewLocalLocker()

	signingSvc := service.NewSigningService(requests, deposits, redemptions, bridgings, chains, params, nopSigner{}, nopLedger{}, locker, time.Minute)
	quorumSvc := service.NewQuorumService(deposits, redemptions, bridgings, auth, params, locker)
	depositSvc := service.NewDepositService(deposits, chains, params, signingSvc, oracle, builder, locker)
	redemptionSvc := service.NewRedemptionService(redemptions, chains, params, locker)
	bridgingSvc := service.NewBridgingService(bridgings, chains, params, signingSvc, oracle, locker)
	settlementSvc := service.NewSettlementService(bridgings, batches, params, builder, locker, 50)
	adminSvc := service.NewAdminService(auth, deposits, redemptions, bridgings, chains)

	engine := gin.New()
	engine.Use(middleware.Recovery(), middleware.RequestID())
	router.SetupRouter(engine, &router.Handlers{
		Attestation: handler.NewAttestationHandler(quorumSvc),
		Deposit:     handler.NewDepositHandler(depositSvc),
		Redemption:  handler.NewRedemptionHandler(redemptionSvc),
		Bridging:    handler.NewBridgingHandler(bridgingSvc),
		Settlement:  handler.NewSettlementHandler(settlementSvc),
		Signing:     handler.NewSigningHandler(signingSvc),
		Admin:       handler.NewAdminHandler(adminSvc),
	}, testAdminKey, nil)

	return &testEnv{db: db, engine: engine}
}

func (e *testEnv) request(method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	e.engine.ServeHTTP(w, req)
	return w
}

func (e *testEnv) admin(method, path string) *httptest.ResponseRecorder {
	return e.request(method, path, nil, map[string]string{middleware.AdminKeyHeader: testAdminKey})
}

type apiResponse struct {
	Code    string          `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func decode(t *testing.T, w *httptest.ResponseRecorder) apiResponse {
	var resp apiResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func (e *testEnv) createDeposit(t *testing.T, hash string) {
	w := e.request(http.MethodPost, "/api/v1/deposits", map[string]interface{}{
		"btc_txn_hash":       hash,
		"btc_sender_address": testSender,
		"receiving_chain_id": testEVMChain,
		"receiving_address":  testReceiver,
		"btc_amount":         100000,
		"status":             10,
		"timestamp":          time.Now().UnixMilli(),
	}, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func (e *testEnv) getDeposit(t *testing.T, hash string) *handler.DepositView {
	w := e.request(http.MethodGet, "/api/v1/deposits/"+hash, nil, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	view := &handler.DepositView{DepositRecord: &model.DepositRecord{}}
	require.NoError(t, json.Unmarshal(decode(t, w).Data, view))
	return view
}

func TestHealth(t *testing.T) {
	env := setupTestEnv(t)

	w := env.request(http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "ok")
	assert.NotEmpty(t, w.Header().Get(middleware.RequestIDHeader))
}

func TestDeposit_CreateAndGet(t *testing.T) {
	env := setupTestEnv(t)
	env.createDeposit(t, "btc-1")

	view := env.getDeposit(t, "btc-1")
	assert.Equal(t, model.DepositStatusDeposited, view.Status)
	assert.Equal(t, uint64(200), view.ProtocolFee)
	assert.Equal(t, uint64(1000), view.MintingFee)
	assert.Equal(t, uint64(98800), view.NetAmount)
	assert.Equal(t, "0.000988", view.NetAmountBTC.String())

	t.Run("duplicate is conflict", func(t *testing.T) {
		w := env.request(http.MethodPost, "/api/v1/deposits", map[string]interface{}{
			"btc_txn_hash":       "btc-1",
			"btc_sender_address": testSender,
			"receiving_chain_id": testEVMChain,
			"receiving_address":  testReceiver,
			"btc_amount":         100000,
			"status":             10,
			"timestamp":          time.Now().UnixMilli(),
		}, nil)
		assert.Equal(t, http.StatusConflict, w.Code)
		assert.Equal(t, "CONFLICT", decode(t, w).Code)
	})

	t.Run("unknown hash is not found", func(t *testing.T) {
		w := env.request(http.MethodGet, "/api/v1/deposits/missing", nil, nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Equal(t, "NOT_FOUND", decode(t, w).Code)
	})

	t.Run("list", func(t *testing.T) {
		w := env.request(http.MethodGet, "/api/v1/deposits?status=10&page=1&page_size=10", nil, nil)
		require.Equal(t, http.StatusOK, w.Code)
		var resp struct {
			Data []json.RawMessage `json:"data"`
			Meta handler.PageMeta  `json:"meta"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Len(t, resp.Data, 1)
		assert.Equal(t, int64(1), resp.Meta.Total)
	})
}

func TestDeposit_CreateValidation(t *testing.T) {
	env := setupTestEnv(t)

	w := env.request(http.MethodPost, "/api/v1/deposits", map[string]interface{}{
		"btc_txn_hash":       "btc-bad",
		"btc_sender_address": testSender,
		"receiving_chain_id": "unknown",
		"receiving_address":  testReceiver,
		"btc_amount":         100000,
	}, nil)
	assert.NotEqual(t, http.StatusOK, w.Code)

	w = env.request(http.MethodPost, "/api/v1/deposits", nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAttestation_Quorum(t *testing.T) {
	env := setupTestEnv(t)
	env.createDeposit(t, "btc-q")

	for _, v := range []string{"validator-a", "validator-b"} {
		w := env.admin(http.MethodPost, "/admin/validators/"+v+"/chains/"+testBtcChain)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	}

	attest := func(validator string) bool {
		view := env.getDeposit(t, "btc-q")
		w := env.request(http.MethodPost, "/api/v1/attestations/deposit", view.DepositRecord,
			map[string]string{middleware.ValidatorIDHeader: validator})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		var res handler.AttestationResult
		require.NoError(t, json.Unmarshal(decode(t, w).Data, &res))
		return res.Accepted
	}

	assert.True(t, attest("validator-a"))
	assert.False(t, attest("validator-a"), "second vote from the same validator is rejected")
	assert.False(t, attest("validator-c"), "unauthorized validator")
	assert.True(t, attest("validator-b"))
	assert.Equal(t, uint32(2), env.getDeposit(t, "btc-q").VerifiedCount)

	w := env.request(http.MethodGet, "/api/v1/attestations?key=btc-q", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var validators []string
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &validators))
	assert.ElementsMatch(t, []string{"validator-a", "validator-b"}, validators)

	// 达到阈值后进入收益存入
	w = env.request(http.MethodPost, "/api/v1/deposits/btc-q/yield",
		handler.YieldRequest{YieldTxnHash: "0xyield"}, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, model.DepositStatusPendingYield, env.getDeposit(t, "btc-q").Status)
}

func TestAttestation_Errors(t *testing.T) {
	env := setupTestEnv(t)

	t.Run("missing validator header", func(t *testing.T) {
		w := env.request(http.MethodPost, "/api/v1/attestations/deposit", model.DepositRecord{BtcTxnHash: "x"}, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("unknown phase", func(t *testing.T) {
		w := env.request(http.MethodPost, "/api/v1/attestations/withdrawal", model.DepositRecord{BtcTxnHash: "x"},
			map[string]string{middleware.ValidatorIDHeader: "validator-a"})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("missing key", func(t *testing.T) {
		w := env.request(http.MethodGet, "/api/v1/attestations", nil, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestDeposit_PreconditionIsConflict(t *testing.T) {
	env := setupTestEnv(t)
	env.createDeposit(t, "btc-p")

	// 未达到阈值
	w := env.request(http.MethodPost, "/api/v1/deposits/btc-p/yield",
		handler.YieldRequest{YieldTxnHash: "0xyield"}, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "PRECONDITION_FAILED", decode(t, w).Code)
	assert.Equal(t, model.DepositStatusDeposited, env.getDeposit(t, "btc-p").Status)

	// 缺少必填字段
	w = env.request(http.MethodPost, "/api/v1/deposits/btc-p/yield", map[string]string{}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAdmin_RequiresKey(t *testing.T) {
	env := setupTestEnv(t)

	w := env.request(http.MethodGet, "/admin/validators", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = env.request(http.MethodGet, "/admin/validators", nil, map[string]string{middleware.AdminKeyHeader: "wrong"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = env.admin(http.MethodGet, "/admin/validators")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAdmin_Grants(t *testing.T) {
	env := setupTestEnv(t)

	w := env.admin(http.MethodPost, "/admin/validators/validator-a/chains/"+testEVMChain)
	require.Equal(t, http.StatusOK, w.Code)

	w = env.admin(http.MethodGet, "/admin/validators/validator-a/chains")
	require.Equal(t, http.StatusOK, w.Code)
	var chains []string
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &chains))
	assert.Equal(t, []string{testEVMChain}, chains)

	w = env.admin(http.MethodPost, "/admin/validators/validator-a/chains/unknown")
	assert.NotEqual(t, http.StatusOK, w.Code)

	w = env.admin(http.MethodDelete, "/admin/validators/validator-a/chains/"+testEVMChain)
	assert.Equal(t, http.StatusOK, w.Code)

	w = env.admin(http.MethodDelete, "/admin/validators/validator-a/chains/"+testEVMChain)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAdmin_ClearRecords(t *testing.T) {
	env := setupTestEnv(t)
	env.createDeposit(t, "btc-c1")
	env.createDeposit(t, "btc-c2")

	w := env.admin(http.MethodDelete, "/admin/records")
	require.Equal(t, http.StatusOK, w.Code)
	var res service.ClearResult
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &res))
	assert.Equal(t, int64(2), res.Deposits)

	w = env.request(http.MethodGet, "/api/v1/deposits/btc-c1", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSettlement_Endpoints(t *testing.T) {
	env := setupTestEnv(t)

	w := env.request(http.MethodGet, "/api/v1/settlement/verify?root=00&txid=tx&event_id=e", nil, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var res service.MerkleMembership
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &res))
	assert.False(t, res.Valid)
	assert.Empty(t, res.Proof)

	w = env.request(http.MethodGet, "/api/v1/settlement/verify?root=00", nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.request(http.MethodGet, "/api/v1/settlement/unknown-txid", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.request(http.MethodPost, "/api/v1/settlement/treasury", map[string]interface{}{"fee_rate": 1}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.request(http.MethodGet, "/api/v1/settlement", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestSigning_Result(t *testing.T) {
	env := setupTestEnv(t)

	w := env.request(http.MethodPost, "/api/v1/signing/req-1/result",
		handler.SigningResultRequest{Signature: "not-hex"}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.request(http.MethodPost, "/api/v1/signing/req-1/result",
		handler.SigningResultRequest{Signature: "0x01"}, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.request(http.MethodGet, "/api/v1/signing?event_type=deposit", nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.request(http.MethodGet, "/api/v1/signing?event_type=deposit&event_id=btc-1", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}
