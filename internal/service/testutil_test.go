package service

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/eidos-exchange/eidos/eidos-bridge/internal/blockchain"
	"github.com/eidos-exchange/eidos/eidos-bridge/internal/btc"
	"github.com/eidos-exchange/eidos/eidos-bridge/internal/config"
	"github.com/eidos-exchange/eidos/eidos-bridge/internal/model"
	"github.com/eidos-exchange/eidos/eidos-bridge/internal/registry"
	"github.com/eidos-exchange/eidos/eidos-bridge/internal/repository"
	"github.com/eidos-exchange/eidos/eidos-bridge/pkg/lock"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	testBtcChain  = "SIGNET"
	testEVMChain  = "421614"
	testNEARChain = "NEAR_TESTNET"

	testAsset    = "0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed"
	testReceiver = "0xfb6916095ca1df60bb79ce92ce3ea74c37c5d359"
	testTreasury = "tb1qw508d6qejxtdg4y5r3zarvary0c5xw7kxpjzsx"
	testChange   = "tb1qrp33g0q5c5txsp9arysrx4k6zdkfs4nce4xj0gdcccefvpysxf3q0sl5k7"
)

// mockSigner 模拟门限签名服务
type mockSigner struct {
	mock.Mock
}

func (m *mockSigner) RequestSignature(ctx context.Context, req *model.SigningRequest) error {
	args := m.Called(ctx, req)
	return args.Error(0)
}

// mockLedger 模拟账户链账本
type mockLedger struct {
	mock.Mock
}

func (m *mockLedger) Mint(ctx context.Context, receiver string, amount uint64, provenance string) error {
	args := m.Called(ctx, receiver, amount, provenance)
	return args.Error(0)
}

type testEnv struct {
	db          *gorm.DB
	deposits    repository.DepositRepository
	redemptions repository.RedemptionRepository
	bridgings   repository.BridgingRepository
	auth        repository.AuthorizationRepository
	requests    repository.SigningRepository
	batches     repository.SettlementRepository

	chains *registry.ChainRegistry
	params *registry.ParamRegistry
	signer *mockSigner
	ledger *mockLedger

	quorum     *QuorumService
	deposit    *DepositService
	redemption *RedemptionService
	bridging   *BridgingService
	signing    *SigningService
	settlement *SettlementService
	admin      *AdminService
}

var testDBCounter int64

func setupTestDB(t *testing.T) *gorm.DB {
	id := atomic.AddInt64(&testDBCounter, 1)
	dsn := fmt.Sprintf("file:bridgesvc%d?mode=memory&cache=shared", id)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
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
	return db
}

func testChains() []config.ChainConfig {
	return []config.ChainConfig{
		{ChainID: testBtcChain, NetworkType: config.NetworkTypeBitcoin, ValidatorsThreshold: 2},
		{
			ChainID:             testEVMChain,
			NetworkType:         config.NetworkTypeEVM,
			ValidatorsThreshold: 2,
			AssetAddress:        testAsset,
			EVMChainID:          421614,
			MPCPath:             "bitcoin-1",
			GasLimit:            150000,
			MintingFee:          1000,
		},
		{
			ChainID:             testNEARChain,
			NetworkType:         config.NetworkTypeNEAR,
			ValidatorsThreshold: 1,
			AssetAddress:        "abtc.testnet",
			MPCPath:             "near-1",
			MintingFee:          500,
		},
	}
}

func newTestEnv(t *testing.T) *testEnv {
	db := setupTestDB(t)
	chains := testChains()

	env := &testEnv{
		db:          db,
		deposits:    repository.NewDepositRepository(db),
		redemptions: repository.NewRedemptionRepository(db),
		bridgings:   repository.NewBridgingRepository(db),
		auth:        repository.NewAuthorizationRepository(db),
		requests:    repository.NewSigningRepository(db),
		batches:     repository.NewSettlementRepository(db),
		chains:      registry.NewChainRegistry(chains),
		params: registry.NewParamRegistry(config.BridgeConfig{
			BtcChainID:       testBtcChain,
			BtcNetwork:       "testnet3",
			TreasuryAddress:  testTreasury,
			ChangeAddress:    testChange,
			MPCContract:      "v1.signer-prod.testnet",
			KeyVersion:       1,
			MaxRetryCount:    2,
			DepositFeeBps:    20,
			RedemptionFeeBps: 20,
			BridgingFeeBps:   20,
			KeyDelimiter:     ",",
		}),
		signer: &mockSigner{},
		ledger: &mockLedger{},
	}

	builder, err := btc.NewBuilder(btc.BuilderConfig{Network: "testnet3", ChangeAddress: testChange})
	require.NoError(t, err)
	oracle := blockchain.NewClient(chains, config.EVMConfig{DefaultGasLimit: 200000, MaxFeePerGasGwei: 50, TipCapGwei: 2})
	locker := lock.NewLocalLocker()

	env.signing = NewSigningService(env.requests, env.deposits, env.redemptions, env.bridgings,
		env.chains, env.params, env.signer, env.ledger, locker, time.Minute)
	env.quorum = NewQuorumService(env.deposits, env.redemptions, env.bridgings, env.auth, env.params, locker)
	env.deposit = NewDepositService(env.deposits, env.chains, env.params, env.signing, oracle, builder, locker)
	env.redemption = NewRedemptionService(env.redemptions, env.chains, env.params, locker)
	env.bridging = NewBridgingService(env.bridgings, env.chains, env.params, env.signing, oracle, locker)
	env.settlement = NewSettlementService(env.bridgings, env.batches, env.params, builder, locker, 50)
	env.admin = NewAdminService(env.auth, env.deposits, env.redemptions, env.bridgings, env.chains)
	return env
}

// grant 为验证者授权多条链
func (e *testEnv) grant(t *testing.T, validatorID string, chainIDs ...string) {
	for _, c := range chainIDs {
		require.NoError(t, e.admin.GrantChain(context.Background(), validatorID, c, "owner"))
	}
}

// reload 读取当前记录的副本, 作为验证者观测
func (e *testEnv) reloadDeposit(t *testing.T, hash string) *model.DepositRecord {
	rec, err := e.deposits.GetByTxnHash(context.Background(), hash)
	require.NoError(t, err)
	return rec
}

func (e *testEnv) reloadBridging(t *testing.T, hash string) *model.BridgingRecord {
	rec, err := e.bridgings.GetByTxnHash(context.Background(), hash)
	require.NoError(t, err)
	return rec
}

func (e *testEnv) reloadRedemption(t *testing.T, hash string) *model.RedemptionRecord {
	rec, err := e.redemptions.GetByTxnHash(context.Background(), hash)
	require.NoError(t, err)
	return rec
}

// attestDeposit 验证者提交当前记录并断言结果
func (e *testEnv) attestDeposit(t *testing.T, validatorID, hash string, phase Phase) bool {
	ok, err := e.quorum.Attest(context.Background(), validatorID, e.reloadDeposit(t, hash), phase)
	require.NoError(t, err)
	return ok
}

// newDeposit 创建已确认 (10) 的充值
func (e *testEnv) newDeposit(t *testing.T, hash string, amount uint64, chainID, receiver string) *model.DepositRecord {
	rec, err := e.deposit.Create(context.Background(), &CreateDepositRequest{
		BtcTxnHash:       hash,
		BtcSenderAddress: testTreasury,
		ReceivingChainID: chainID,
		ReceivingAddress: receiver,
		BtcAmount:        amount,
		Status:           model.DepositStatusDeposited,
		Timestamp:        time.Now().UnixMilli(),
	})
	require.NoError(t, err)
	return rec
}
