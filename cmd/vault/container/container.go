package container

import (
	"github.com/lyzr/datavault/cmd/vault/repository"
	"github.com/lyzr/datavault/cmd/vault/service"
	"github.com/lyzr/datavault/common/bootstrap"
	"github.com/lyzr/datavault/common/clients"
	"github.com/lyzr/datavault/common/metrics"
	"github.com/lyzr/datavault/common/ratelimit"
)

// Container holds all initialized services and repositories (singleton pattern)
type Container struct {
	// Components
	Components *bootstrap.Components
	IPFS       *clients.IPFSClient

	// Repositories
	MetadataRepo *repository.MetadataRepository
	PinRepo      *repository.PinRepository

	// Services
	PinService     *service.PinService
	StorageService *service.StorageService
	AuthService    *service.AuthService
	Reconciler     *service.Reconciler

	// RateLimiter is nil unless rate limiting is enabled and Redis is connected
	RateLimiter  *ratelimit.RateLimiter
	GlobalPolicy ratelimit.Policy
	PerDIDPolicy ratelimit.Policy
}

// NewContainer initializes all services and repositories once
func NewContainer(components *bootstrap.Components) (*Container, error) {
	cfg := components.Config
	log := components.Logger

	ipfs := clients.NewIPFSClient(cfg.IPFS.APIURL, cfg.IPFS.Timeout, log)
	storageMetrics := metrics.NewStorageMetrics()

	// Initialize repositories
	metadataRepo := repository.NewMetadataRepository(components.DB)
	pinRepo := repository.NewPinRepository(components.DB)

	// Initialize services (bottom-up: dependencies first)
	pinService := service.NewPinService(ipfs, pinRepo, storageMetrics, log)

	storageService := service.NewStorageService(&service.StorageServiceOpts{
		Blobs:      ipfs,
		Pins:       pinService,
		Index:      metadataRepo,
		MaxStorage: cfg.Storage.MaxStorage,
		Queue:      components.Queue,
		Metrics:    storageMetrics,
		Logger:     log,
	})

	authService := service.NewAuthService(&service.AuthServiceOpts{
		Cache:           components.Cache,
		Logger:          log,
		ChallengeTTL:    cfg.Auth.ChallengeTTL,
		AccessTokenTTL:  cfg.Auth.AccessTokenTTL,
		RefreshTokenTTL: cfg.Auth.RefreshTokenTTL,
	})

	c := &Container{
		Components:     components,
		IPFS:           ipfs,
		MetadataRepo:   metadataRepo,
		PinRepo:        pinRepo,
		PinService:     pinService,
		StorageService: storageService,
		AuthService:    authService,
	}

	if components.Queue != nil {
		c.Reconciler = service.NewReconciler(components.Queue, pinService, log)
	}

	if cfg.RateLimit.Enabled {
		if components.Redis == nil {
			log.Warn("rate limiting enabled but redis is not configured, skipping")
		} else {
			c.RateLimiter = ratelimit.NewRateLimiter(components.Redis.GetUnderlying(), log)
			c.GlobalPolicy, c.PerDIDPolicy = ratelimit.PoliciesFromConfig(cfg.RateLimit)
		}
	}

	return c, nil
}
