package app

import (
	"fmt"
	"net/http"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/credentis/credentis/pkg/api"
	"github.com/credentis/credentis/pkg/audit"
	"github.com/credentis/credentis/pkg/config"
	"github.com/credentis/credentis/pkg/jwe"
	"github.com/credentis/credentis/pkg/jwks"
	"github.com/credentis/credentis/pkg/logger"
	"github.com/credentis/credentis/pkg/session"
	"github.com/credentis/credentis/pkg/validation"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the issuance endpoints as an HTTP service",
	RunE:  serveCmdFunc,
}

func init() {
	serveCmd.Flags().String("listen", ":8080", "Address to listen on")
	serveCmd.Flags().String("config", "", "Path to the configuration file")
}

func serveCmdFunc(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	if path, _ := cmd.Flags().GetString("config"); path != "" {
		viper.SetConfigFile(path)
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}
	}
	logger.Initialize()

	svc, err := config.LoadService()
	if err != nil {
		return err
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return fmt.Errorf("failed to load AWS config: %w", err)
	}

	ttls := session.TTLs{
		Session:           svc.SessionTTL,
		AuthorizationCode: svc.AuthorizationCodeTTL,
		AccessToken:       svc.AccessTokenTTL,
	}

	store := session.NewDynamoStore(dynamodb.NewFromConfig(awsCfg), svc.SessionTableName, ttls)

	decrypter := jwe.NewDecrypter(kms.NewFromConfig(awsCfg), jwe.Config{
		KeyAlias:        svc.DecryptionKeyAlias,
		RotationAliases: svc.KeyRotationAliases,
		UseRotation:     svc.UseKeyRotation,
		LegacyFallback:  svc.LegacyKeyFallback,
	})

	var auditor audit.Publisher = audit.NoopPublisher{}
	if svc.AuditQueueURL != "" {
		auditor = audit.NewSQSPublisher(sqs.NewFromConfig(awsCfg), svc.AuditQueueURL)
	}

	registry := config.NewViperRegistry()
	cache := jwks.NewCache()
	handlers := api.NewHandlers(
		store,
		registry,
		decrypter,
		validation.NewSessionRequestValidator(registry, cache),
		validation.NewTokenRequestValidator(cache),
		auditor,
		ttls,
	)

	listen, _ := cmd.Flags().GetString("listen")
	server := &http.Server{
		Addr:              listen,
		Handler:           handlers.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Infof("listening on %s", listen)
	return server.ListenAndServe()
}
