package app

import (
	"admission-gateway/internal/admission"
	"admission-gateway/internal/common/logging"
	"admission-gateway/internal/ratelimit"
)

// initializeAdmission builds the admission components on top of the shared
// store. A policy file that cannot be loaded falls back to the built-in table.
func (app *App) initializeAdmission() error {
	app.Tuning = admission.TuningFor(app.Config.Environment)

	policyFile := admission.DefaultPolicyFile(app.Config.APIPrefix, app.Config.IsDevelopment())
	if path := app.Config.PolicyFile; path != "" {
		loaded, err := admission.LoadPolicyFile(path)
		if err != nil {
			app.Logger.Error("Failed to load policy file, using built-in policies", err,
				logging.String("path", path))
		} else {
			policyFile = loaded
		}
	}

	policies, err := admission.NewPolicyTable(policyFile, app.Tuning.LimitMultiplier)
	if err != nil {
		if app.Config.PolicyFile == "" {
			return err
		}
		app.Logger.Error("Invalid policy file, using built-in policies", err,
			logging.String("path", app.Config.PolicyFile))
		policies, err = admission.NewPolicyTable(
			admission.DefaultPolicyFile(app.Config.APIPrefix, app.Config.IsDevelopment()),
			app.Tuning.LimitMultiplier,
		)
		if err != nil {
			return err
		}
	}
	app.Policies = policies

	logger := app.Logger.WithFields(logging.String("component", "admission"))
	app.Orchestrator = admission.NewOrchestrator(app.RedisClient, admission.Options{
		Tuning: &app.Tuning,
		Logger: logger,
	})
	app.Identifier = admission.NewIdentifier(
		app.Config.SecretKey,
		app.Config.TrustedProxyHeaders,
		app.Tuning.AllowPrivateIPs,
	)
	app.Gateway = ratelimit.NewGateway(app.Orchestrator, app.Identifier, app.Policies, &ratelimit.Config{
		Enabled:   app.Config.RateLimitEnabled,
		SkipPaths: app.Config.SkipPaths,
	}, logger)

	app.Logger.Info("Rate Limiting: Configured",
		logging.Bool("enabled", app.Config.RateLimitEnabled),
		logging.String("environment", app.Config.Environment),
		logging.Bool("penalties", app.Tuning.PenaltiesEnabled),
		logging.Bool("blacklist", app.Tuning.BlacklistEnabled),
		logging.Float64("limit_multiplier", app.Tuning.LimitMultiplier),
		logging.Int("policies", len(app.Policies.Policies())),
	)
	return nil
}
