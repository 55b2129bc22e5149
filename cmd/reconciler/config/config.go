// Package config turns command-line flags, environment variables and the
// optional config file into validated component configurations.
package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"commission-reconciliation-service/internal/ledger"
	"commission-reconciliation-service/internal/matcher"
	"commission-reconciliation-service/internal/models"
	"commission-reconciliation-service/internal/parsers"
	"commission-reconciliation-service/internal/reconciler"
	"commission-reconciliation-service/internal/reporter"
	"commission-reconciliation-service/pkg/errors"
	"commission-reconciliation-service/pkg/logger"
)

// EnvPrefix is the prefix of environment variables read by the CLI
const EnvPrefix = "RECONCILER"

// Configuration keys
const (
	KeyDatabase                   = "database"
	KeyLogLevel                   = "log.level"
	KeyLogFormat                  = "log.format"
	KeyLogFile                    = "log.file"
	KeyAutoMatchScore             = "matching.auto_match_score"
	KeyAmountTolerance            = "matching.amount_tolerance_percent"
	KeyMaxReviewCandidates        = "matching.max_review_candidates"
	KeySingleTransactionAutoMatch = "matching.single_transaction_auto_match"
	KeySkipMarkers                = "matching.skip_markers"
	KeyBalanceKey                 = "matching.balance_key"
	KeyMaxIDAttempts              = "reconciler.max_id_attempts"
	KeyPolicies                   = "policies"
	KeyReportMaxItems             = "report.max_items"
	KeyReportColors               = "report.colors"
)

// SetDefaults registers the default value of every configuration key
func SetDefaults(v *viper.Viper) {
	matching := matcher.DefaultMatchingConfig()

	v.SetDefault(KeyDatabase, "reconciler.db")
	v.SetDefault(KeyLogLevel, string(logger.InfoLevel))
	v.SetDefault(KeyLogFormat, string(logger.TextFormat))
	v.SetDefault(KeyLogFile, "")
	v.SetDefault(KeyAutoMatchScore, matching.AutoMatchScore)
	v.SetDefault(KeyAmountTolerance, matching.AmountTolerancePercent)
	v.SetDefault(KeyMaxReviewCandidates, matching.MaxReviewCandidates)
	v.SetDefault(KeySingleTransactionAutoMatch, matching.SingleTransactionAutoMatch)
	v.SetDefault(KeySkipMarkers, matching.SkipMarkers)
	v.SetDefault(KeyBalanceKey, matching.BalanceKey.String())
	v.SetDefault(KeyMaxIDAttempts, reconciler.DefaultMaxIDAttempts)
	v.SetDefault(KeyReportMaxItems, reporter.DefaultReportConfig().MaxItems)
	v.SetDefault(KeyReportColors, true)
}

// BindEnvironment makes every key readable from RECONCILER_* variables,
// loading .env files first. Missing .env files are not an error.
func BindEnvironment(v *viper.Viper, envFiles ...string) error {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, file := range envFiles {
		if _, err := os.Stat(file); os.IsNotExist(err) {
			continue
		}
		if err := godotenv.Load(file); err != nil {
			return errors.ConfigurationError(errors.CodeInvalidConfig, "env_file", file, err).
				WithSuggestion("check the .env file syntax: one KEY=value per line")
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return nil
}

// CreateLoggerConfig creates the logger configuration
func CreateLoggerConfig(v *viper.Viper, verbose bool) (*logger.Config, error) {
	config := logger.DefaultConfig()
	config.Level = logger.Level(strings.ToLower(v.GetString(KeyLogLevel)))
	config.Format = logger.Format(strings.ToLower(v.GetString(KeyLogFormat)))
	config.Output = logger.StderrOutput
	if file := v.GetString(KeyLogFile); file != "" {
		config.Output = logger.FileOutput
		config.File = file
	}
	if verbose {
		config.Level = logger.DebugLevel
	}

	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "log", config.Level, err).
			WithSuggestion("log.level is one of debug, info, warn, error; log.format is text or json")
	}
	return config, nil
}

// CreateMatchingConfig creates the matching configuration
func CreateMatchingConfig(v *viper.Viper) (*matcher.MatchingConfig, error) {
	config := matcher.DefaultMatchingConfig()
	config.AutoMatchScore = v.GetInt(KeyAutoMatchScore)
	config.AmountTolerancePercent = v.GetFloat64(KeyAmountTolerance)
	config.MaxReviewCandidates = v.GetInt(KeyMaxReviewCandidates)
	config.SingleTransactionAutoMatch = v.GetBool(KeySingleTransactionAutoMatch)
	if markers := v.GetStringSlice(KeySkipMarkers); len(markers) > 0 {
		config.SkipMarkers = markers
	}

	mode, err := ledger.ParseKeyMode(v.GetString(KeyBalanceKey))
	if err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, KeyBalanceKey, v.GetString(KeyBalanceKey), err)
	}
	config.BalanceKey = mode

	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "matching", config.String(), err).
			WithSuggestion("check the matching.* settings")
	}
	return config, nil
}

// CreateServiceConfig creates the reconciliation service configuration
func CreateServiceConfig(v *viper.Viper, showProgress bool) (*reconciler.Config, error) {
	matching, err := CreateMatchingConfig(v)
	if err != nil {
		return nil, err
	}

	config := reconciler.DefaultConfig()
	config.Matching = matching
	config.MaxIDAttempts = v.GetInt(KeyMaxIDAttempts)
	config.ProgressReporting = showProgress

	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "reconciler", config.MaxIDAttempts, err)
	}
	return config, nil
}

// CreatePolicyConfig creates the policy import configuration. Column names
// under the policies key override the defaults one by one.
func CreatePolicyConfig(v *viper.Viper, sheet string) (*parsers.PolicyConfig, error) {
	config := parsers.DefaultPolicyConfig()

	if v.IsSet(KeyPolicies) {
		var override parsers.PolicyConfig
		if err := v.UnmarshalKey(KeyPolicies, &override); err != nil {
			return nil, errors.ConfigurationError(errors.CodeInvalidConfig, KeyPolicies, nil, err)
		}
		for field, column := range override.Columns {
			config.Columns[field] = column
		}
		if len(override.ColumnAliases) > 0 {
			config.ColumnAliases = override.ColumnAliases
		}
		if override.Sheet != "" {
			config.Sheet = override.Sheet
		}
		if override.MaxErrors > 0 {
			config.MaxErrors = override.MaxErrors
		}
	}
	if sheet != "" {
		config.Sheet = sheet
	}

	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, KeyPolicies, nil, err)
	}
	return config, nil
}

// CreateReportConfig creates a report configuration for the specified output format
func CreateReportConfig(v *viper.Viper, format string) (*reporter.ReportConfig, error) {
	config := reporter.DefaultReportConfig()
	config.Format = reporter.OutputFormat(strings.ToLower(format))
	config.MaxItems = v.GetInt(KeyReportMaxItems)
	config.UseColors = v.GetBool(KeyReportColors)

	switch config.Format {
	case reporter.FormatConsole:
		config.IncludeMatched = true
	case reporter.FormatJSON:
		config.UseColors = false
	case reporter.FormatCSV, reporter.FormatXLSX:
		config.UseColors = false
		config.IncludeSkipped = true
		config.MaxItems = 0
	}

	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "output-format", format, err).
			WithSuggestion("use one of: console, json, csv, xlsx")
	}
	return config, nil
}

// FieldAliases are the short names accepted for statement fields on the
// command line
var FieldAliases = map[string]string{
	"customer":         models.FieldCustomer,
	"policy":           models.FieldPolicyNumber,
	"effective":        models.FieldEffectiveDate,
	"paid":             models.FieldAgentPaidAmount,
	"agency":           models.FieldAgencyCommissionReceived,
	"policy_type":      models.FieldPolicyType,
	"transaction_type": models.FieldTransactionType,
	"premium":          models.FieldPremiumSold,
	"expiration":       models.FieldExpirationDate,
	"notes":            models.FieldNotes,
}

// ParseColumnMapping parses FIELD=COLUMN pairs. FIELD is a short alias
// such as paid or the full field name.
func ParseColumnMapping(pairs []string) (models.ColumnMapping, error) {
	if len(pairs) == 0 {
		return nil, nil
	}

	mapping := make(models.ColumnMapping, len(pairs))
	for _, pair := range pairs {
		field, column, ok := strings.Cut(pair, "=")
		field, column = strings.TrimSpace(field), strings.TrimSpace(column)
		if !ok || field == "" || column == "" {
			return nil, errors.ValidationError(errors.CodeInvalidMapping, "column", pair, nil).
				WithSuggestion("use FIELD=COLUMN, for example paid=\"Commission Paid\"")
		}
		if full, ok := FieldAliases[strings.ToLower(field)]; ok {
			field = full
		}
		if _, dup := mapping[field]; dup {
			return nil, errors.ValidationError(errors.CodeInvalidMapping, "column", pair, nil).
				WithSuggestion(fmt.Sprintf("map %s only once", field))
		}
		mapping[field] = column
	}

	if err := mapping.Validate(); err != nil {
		return nil, errors.ValidationError(errors.CodeInvalidMapping, "mapping", mapping.String(), err).
			WithSuggestion("fields: " + strings.Join(AliasNames(), ", "))
	}
	return mapping, nil
}

// AliasNames returns the short field names in sorted order
func AliasNames() []string {
	names := make([]string, 0, len(FieldAliases))
	for name := range FieldAliases {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ParseSelections parses ROW=TRANSACTION_ID pairs
func ParseSelections(pairs []string) ([]reconciler.Selection, error) {
	selections := make([]reconciler.Selection, 0, len(pairs))
	seen := make(map[int]bool, len(pairs))

	for _, pair := range pairs {
		rowText, id, ok := strings.Cut(pair, "=")
		row, err := strconv.Atoi(strings.TrimSpace(rowText))
		id = strings.TrimSpace(id)
		if !ok || err != nil || row < 1 || id == "" {
			return nil, errors.ValidationError(errors.CodeInvalidData, "select", pair, err).
				WithSuggestion("use ROW=TRANSACTION_ID, for example 14=AB12CD3")
		}
		if seen[row] {
			return nil, errors.ValidationError(errors.CodeDuplicateEntry, "select", pair, nil).
				WithSuggestion("select each statement row once")
		}
		seen[row] = true
		selections = append(selections, reconciler.Selection{Row: row, TransactionID: id})
	}
	return selections, nil
}

// ParseDate parses a command-line date. Blank values return the zero time.
func ParseDate(flag, value string) (time.Time, error) {
	if strings.TrimSpace(value) == "" {
		return time.Time{}, nil
	}
	t, err := models.ParseDate(value)
	if err != nil {
		return time.Time{}, errors.ValidationError(errors.CodeInvalidDate, flag, value, err).
			WithSuggestion("use YYYY-MM-DD or MM/DD/YYYY")
	}
	return t, nil
}
