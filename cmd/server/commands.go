package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	jwttoken "canon/internal/jwt_token"
	"canon/internal/platform/config"
	"canon/internal/platform/logger"
	"canon/internal/platform/postgres"
	"canon/internal/risk/engine"
)

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfg := config.FromEnv()
	if cfg.Store.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required to migrate")
	}
	log := logger.New(cfg.Environment)
	ctx := cmd.Context()

	db, err := postgres.Open(ctx, cfg.Store.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()
	return postgres.Migrate(ctx, db, log)
}

func runScore(cmd *cobra.Command, _ []string) error {
	flags := cmd.Flags()
	path, _ := flags.GetString("policy")
	if path == "" {
		path = config.FromEnv().Risk.PolicyFile
	}
	policy, err := engine.LoadPolicy(path)
	if err != nil {
		return err
	}
	eng, err := engine.New(policy)
	if err != nil {
		return err
	}

	var sig engine.Signals
	if flags.Changed("confidence") {
		c, _ := flags.GetFloat64("confidence")
		sig.VerificationConfidence = &c
	}
	sig.IdentityReuseCount, _ = flags.GetInt("identity-reuse")
	sig.DeviceReuseCount, _ = flags.GetInt("device-reuse")
	sig.IncidentCount, _ = flags.GetInt("incidents")

	assessment, err := eng.Score(sig)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(struct {
		Signals   engine.Signals `json:"signals"`
		Score     int            `json:"riskScore"`
		Tier      string         `json:"trustTier"`
		Breakdown any            `json:"breakdown"`
	}{sig, assessment.Score, string(assessment.Tier), assessment.Breakdown})
}

func runToken(cmd *cobra.Command, args []string) error {
	cfg := config.FromEnv()
	role, _ := cmd.Flags().GetString("role")
	ttl, _ := cmd.Flags().GetDuration("ttl")
	if ttl <= 0 {
		ttl = cfg.Auth.TokenTTL
	}
	if cfg.IsProduction() {
		fmt.Fprintln(os.Stderr, "warning: minting a token with the production signing key")
	}

	token, err := jwttoken.NewJWTService(cfg.Auth.SigningKey, cfg.Auth.Issuer).GenerateOperatorToken(args[0], role, ttl)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
	return err
}
