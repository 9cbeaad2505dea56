package main

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"safeerase_enterprise/internal/cert"
	"safeerase_enterprise/internal/certstore"
	"safeerase_enterprise/internal/config"
	"safeerase_enterprise/internal/device"
	"safeerase_enterprise/internal/executor"
	"safeerase_enterprise/internal/logging"
	"safeerase_enterprise/internal/nist"
	"safeerase_enterprise/internal/operation"
	"safeerase_enterprise/internal/reporting"
	"safeerase_enterprise/internal/security"
)

const (
	Version = "1.0.0"
	AppName = "SafeErase Enterprise"

	// Exit codes
	EXIT_SUCCESS = 0
	EXIT_ERROR   = 1
	EXIT_WARNING = 2
)

var (
	cfg            *config.Config
	logger         *logging.EnterpriseLogger
	dryRun         bool
	verbose        bool
	configPath     string
	maxDurationStr string
	maxDuration    time.Duration
	operatorName   string
	operatorTitle  string
	startTime      time.Time
)

// errVerificationInvalid сертификат не прошёл независимую проверку
var errVerificationInvalid = errors.New("сертификат не прошёл проверку")

// errRunWarnings часть операций завершилась отменой или пропуском
var errRunWarnings = errors.New("некоторые операции завершились с предупреждениями")

// CLI команды
var rootCmd = &cobra.Command{
	Use:     "safeerase",
	Short:   "SafeErase Enterprise - санитизация носителей по NIST SP 800-88",
	Long:    "Enterprise утилита для выбора метода санитизации, затирания носителей и выпуска подписанных сертификатов по NIST SP 800-88r2",
	Version: Version,
}

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "Показать доступные носители",
	RunE:  runDevices,
}

var decideCmd = &cobra.Command{
	Use:   "decide [устройство]",
	Short: "Подобрать метод и технику санитизации без выполнения",
	Args:  cobra.ExactArgs(1),
	RunE:  runDecide,
}

var wipeCmd = &cobra.Command{
	Use:   "wipe [устройства]",
	Short: "Затереть носители и выпустить подписанные сертификаты",
	RunE:  runWipe,
}

var certsCmd = &cobra.Command{
	Use:   "certs",
	Short: "Показать реестр выпущенных сертификатов",
	RunE:  runCerts,
}

var verifyCertCmd = &cobra.Command{
	Use:   "verify-cert",
	Short: "Независимо проверить подписанный сертификат",
	RunE:  runVerifyCert,
}

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Создать ключевую пару для подписи сертификатов",
	RunE:  runKeygen,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&dryRun, "dry-run", "n", false, "Тестовый режим")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Подробный вывод")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Путь к конфигурации")
	rootCmd.PersistentFlags().StringVar(&maxDurationStr, "max-duration", "", "Максимальное время работы (например: 30m, 2h)")

	decideCmd.Flags().Bool("reused", true, "Носитель будет использоваться повторно")
	decideCmd.Flags().String("sensitivity", "moderate", "Чувствительность данных (low/moderate/high)")
	decideCmd.Flags().Bool("leaves-control", false, "Носитель покидает физический контроль организации")

	wipeCmd.Flags().Bool("reused", true, "Носитель будет использоваться повторно")
	wipeCmd.Flags().String("sensitivity", "moderate", "Чувствительность данных (low/moderate/high)")
	wipeCmd.Flags().Bool("leaves-control", false, "Носитель покидает физический контроль организации")
	wipeCmd.Flags().BoolP("force", "f", false, "Пропустить подтверждение")
	wipeCmd.Flags().StringVar(&operatorName, "operator-name", "", "Имя оператора для сертификата")
	wipeCmd.Flags().StringVar(&operatorTitle, "operator-title", "", "Должность оператора для сертификата")

	certsCmd.Flags().String("device", "", "Показать сертификаты одного устройства")

	verifyCertCmd.Flags().String("cert", "", "Путь к JSON сертификата")
	verifyCertCmd.Flags().String("id", "", "Идентификатор сертификата в реестре")
	verifyCertCmd.Flags().String("pub", "", "Путь к открытому ключу (по умолчанию из директории ключей)")

	keygenCmd.Flags().String("dir", "", "Директория для ключей (по умолчанию из конфигурации)")
	keygenCmd.Flags().Int("bits", cert.MinKeyBits, "Размер модуля RSA")

	rootCmd.AddCommand(devicesCmd, decideCmd, wipeCmd, certsCmd, verifyCertCmd, keygenCmd)
}

// setup загружает конфигурацию и инициализирует логгер
func setup() error {
	var err error
	cfg, err = config.Load(configPath)
	if err != nil {
		return fmt.Errorf("ошибка загрузки конфигурации: %w", err)
	}
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("невалидная конфигурация: %w", err)
	}

	logger, err = logging.NewEnterpriseLogger(cfg, verbose)
	if err != nil {
		return fmt.Errorf("ошибка инициализации логгера: %w", err)
	}

	if maxDurationStr != "" {
		maxDuration, err = time.ParseDuration(maxDurationStr)
		if err != nil {
			return fmt.Errorf("неверный формат max-duration: %w", err)
		}
	} else {
		maxDuration = cfg.GetMaxDuration()
	}
	return nil
}

func answersFromFlags(cmd *cobra.Command) (nist.PolicyAnswers, error) {
	reused, _ := cmd.Flags().GetBool("reused")
	leaves, _ := cmd.Flags().GetBool("leaves-control")
	sensitivity, _ := cmd.Flags().GetString("sensitivity")

	sens, err := nist.ValidateSensitivity(sensitivity)
	if err != nil {
		return nist.PolicyAnswers{}, err
	}
	return nist.PolicyAnswers{
		WillBeReused:          reused,
		Sensitivity:           sens,
		LeavesPhysicalControl: leaves,
	}, nil
}

func runDevices(cmd *cobra.Command, args []string) error {
	if err := setup(); err != nil {
		return err
	}
	defer logger.Close()

	provider := device.NewSandboxProvider(cfg, logger)
	devices, err := provider.ListDevices(cmd.Context())
	if err != nil {
		return fmt.Errorf("ошибка получения носителей: %w", err)
	}

	fmt.Println("Доступные носители:")
	for _, d := range devices {
		excluded := ""
		if security.ShouldSkipDevice(cfg, d) {
			excluded = " [исключён политикой]"
		}
		fmt.Printf("  %s  %s  серийный %s  %.1f МБ  %s/%s%s\n",
			d.Path, d.Model, d.SerialNumber, float64(d.SizeBytes)/(1024*1024), d.Transport, d.MediaType, excluded)
	}
	return nil
}

func runDecide(cmd *cobra.Command, args []string) error {
	if err := setup(); err != nil {
		return err
	}
	defer logger.Close()

	provider := device.NewSandboxProvider(cfg, logger)
	facts, err := provider.DescribeDevice(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	answers, err := answersFromFlags(cmd)
	if err != nil {
		return err
	}

	decision, err := nist.Decide(facts, answers)
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(struct {
		Device   nist.DeviceFacts `json:"device"`
		Decision nist.Decision    `json:"decision"`
	}{facts, decision}, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func runWipe(cmd *cobra.Command, args []string) error {
	startTime = time.Now()
	if err := setup(); err != nil {
		return err
	}
	defer logger.Close()

	answers, err := answersFromFlags(cmd)
	if err != nil {
		return err
	}

	provider := device.NewSandboxProvider(cfg, logger)
	targets, err := resolveTargets(cmd.Context(), provider, args)
	if err != nil {
		return err
	}
	if len(targets) == 0 {
		logger.Log("WARN", "Нет доступных носителей для обработки")
		return nil
	}

	store, err := certstore.NewSQLiteStore(cfg.Certificates.StorePath)
	if err != nil {
		return fmt.Errorf("ошибка открытия реестра сертификатов: %w", err)
	}
	defer store.Close()

	privPath, _, err := cert.EnsureDevKeys(cfg.Keys.Dir)
	if err != nil {
		return fmt.Errorf("ошибка подготовки ключей: %w", err)
	}
	signingKey, err := cert.LoadPrivateKey(privPath)
	if err != nil {
		return err
	}

	// Контекст с учётом maxDuration и сигналов
	baseCtx := cmd.Context()
	var ctx context.Context
	var cancel context.CancelFunc
	if maxDuration > 0 {
		ctx, cancel = context.WithTimeout(baseCtx, maxDuration)
	} else {
		ctx, cancel = context.WithCancel(baseCtx)
	}
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		sig, ok := <-sigChan
		if !ok {
			return
		}
		logger.Log("WARN", "Получен сигнал, начинаем graceful shutdown", "signal", sig.String())
		fmt.Printf("\n[INFO] Получен сигнал %s, завершаем работу...\n", sig.String())
		cancel()
	}()

	registry := operation.NewRegistry(
		executor.NewFileExecutor(cfg, logger),
		executor.NewSamplingProbe(logger),
		logger,
		operation.Options{
			ThroughputSmoothing: cfg.Sanitize.ThroughputSmoothing,
			ThroughputWindow:    cfg.Sanitize.ThroughputWindow,
		},
	)

	force, _ := cmd.Flags().GetBool("force")
	identity := cert.Identity{Name: operatorName, Title: operatorTitle}

	var results []reporting.RunResult
	var hasErrors, hasWarnings bool

	logger.Log("INFO", "Запуск SafeErase Enterprise", "version", Version, "dry_run", dryRun, "devices", len(targets))

	for _, facts := range targets {
		select {
		case <-ctx.Done():
			hasWarnings = true
			logger.Log("WARN", "Обработка остановлена", "reason", ctx.Err().Error())
		default:
		}
		if ctx.Err() != nil {
			break
		}

		decision, err := nist.Decide(facts, answers)
		if err != nil {
			logger.Log("ERROR", "Ошибка подбора метода", "device", facts.Path, "error", err.Error())
			hasErrors = true
			continue
		}
		logger.Log("INFO", "Метод подобран", "device", facts.Path,
			"method", string(decision.Method), "technique", string(decision.Technique))
		for _, w := range decision.Warnings {
			fmt.Printf("[WARN] %s: %s\n", facts.Path, w)
		}

		if dryRun {
			fmt.Printf("[DRY-RUN] %s: %s / %s\n", facts.Path, decision.Method, decision.Technique)
			continue
		}

		if !force {
			ok, err := security.ConfirmSanitization(cfg, os.Stdin, os.Stdout, facts, decision)
			if err != nil {
				return err
			}
			if !ok {
				logger.Log("INFO", "Операция отменена оператором", "device", facts.Path)
				continue
			}
		}

		snap, err := runOperation(ctx, registry, facts, decision)
		if err != nil {
			logger.Log("ERROR", "Операция не запущена", "device", facts.Path, "error", err.Error())
			hasErrors = true
			continue
		}

		result := reporting.RunResult{Snapshot: snap}
		switch snap.State {
		case operation.StateCompleted:
			certID, err := issueCertificate(ctx, store, signingKey, facts, decision, snap, identity)
			if err != nil {
				logger.Log("ERROR", "Сертификат не выпущен", "device", facts.Path, "error", err.Error())
				hasErrors = true
			} else {
				result.CertificateID = certID
				fmt.Printf("[OK] %s: завершено, сертификат %s\n", facts.Path, certID)
			}
		case operation.StateCancelled:
			hasWarnings = true
			logger.Log("WARN", "Операция отменена", "device", facts.Path)
		case operation.StateFailed:
			hasErrors = true
			logger.Log("ERROR", "Операция не удалась", "device", facts.Path, "error", snap.ErrorDetail)
		}
		results = append(results, result)
	}

	exitCode := EXIT_SUCCESS
	if hasWarnings {
		exitCode = EXIT_WARNING
	}
	if hasErrors {
		exitCode = EXIT_ERROR
	}

	report := reporting.GenerateReport(results, dryRun, maxDuration, startTime, time.Now(), exitCode)
	if path, err := reporting.SaveReport(report, cfg); err != nil {
		logger.Log("ERROR", "Отчёт не сохранён", "error", err.Error())
	} else if path != "" {
		logger.Log("INFO", "Отчёт сохранён", "path", path)
	}

	printSummary(report)

	if hasErrors {
		return fmt.Errorf("некоторые операции завершились с ошибкой")
	}
	if hasWarnings {
		return errRunWarnings
	}
	return nil
}

// resolveTargets выбирает носители: указанные аргументами или все
// доступные, за вычетом исключённых политикой
func resolveTargets(ctx context.Context, provider device.Provider, args []string) ([]nist.DeviceFacts, error) {
	var targets []nist.DeviceFacts
	if len(args) > 0 {
		for _, arg := range args {
			facts, err := provider.DescribeDevice(ctx, arg)
			if err != nil {
				return nil, err
			}
			if security.ShouldSkipDevice(cfg, facts) {
				logger.Log("WARN", "Носитель исключён политикой", "device", facts.Path)
				continue
			}
			targets = append(targets, facts)
		}
		return targets, nil
	}

	devices, err := provider.ListDevices(ctx)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения носителей: %w", err)
	}
	for _, facts := range devices {
		if !security.ShouldSkipDevice(cfg, facts) {
			targets = append(targets, facts)
		}
	}
	return targets, nil
}

// runOperation запускает операцию и опрашивает её до терминального
// состояния
func runOperation(ctx context.Context, registry *operation.Registry, facts nist.DeviceFacts, decision nist.Decision) (operation.Snapshot, error) {
	handle, err := registry.Start(ctx, facts, decision)
	if err != nil {
		return operation.Snapshot{}, err
	}

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-handle.Done():
			snap := registry.Poll(handle)
			registry.Release(handle)
			return snap, nil
		case <-ctx.Done():
			registry.Cancel(handle)
			<-handle.Done()
			snap := registry.Poll(handle)
			registry.Release(handle)
			return snap, nil
		case <-ticker.C:
			snap := registry.Poll(handle)
			if snap.State == operation.StateRunning && verbose {
				fmt.Printf("  %s: проход %d/%d, %.1f%%, %.1f МБ/с\n",
					facts.Path, snap.CurrentPass, snap.TotalPasses,
					snap.ProgressPercent, snap.ThroughputBytesPerSec/(1024*1024))
			}
		}
	}
}

// issueCertificate собирает, подписывает и сохраняет сертификат в
// реестре и в файле
func issueCertificate(ctx context.Context, store *certstore.SQLiteStore, key *rsa.PrivateKey, facts nist.DeviceFacts, decision nist.Decision, snap operation.Snapshot, identity cert.Identity) (string, error) {
	record, err := cert.Build(facts, decision, snap, identity)
	if err != nil {
		return "", err
	}
	signed, err := cert.Sign(record, key)
	if err != nil {
		return "", err
	}
	if err := store.Save(ctx, signed); err != nil {
		return "", err
	}

	if cfg.Certificates.OutDir != "" {
		if err := os.MkdirAll(cfg.Certificates.OutDir, 0755); err != nil {
			return "", fmt.Errorf("не удалось создать директорию сертификатов: %w", err)
		}
		data, err := json.MarshalIndent(signed, "", "  ")
		if err != nil {
			return "", err
		}
		path := filepath.Join(cfg.Certificates.OutDir, signed.CertificateID+".json")
		if err := os.WriteFile(path, data, 0644); err != nil {
			return "", fmt.Errorf("ошибка записи сертификата: %w", err)
		}
	}
	return signed.CertificateID, nil
}

func runCerts(cmd *cobra.Command, args []string) error {
	if err := setup(); err != nil {
		return err
	}
	defer logger.Close()

	store, err := certstore.NewSQLiteStore(cfg.Certificates.StorePath)
	if err != nil {
		return fmt.Errorf("ошибка открытия реестра сертификатов: %w", err)
	}
	defer store.Close()

	devicePath, _ := cmd.Flags().GetString("device")
	var entries []certstore.Entry
	if devicePath != "" {
		entries, err = store.ListByDevice(cmd.Context(), devicePath)
	} else {
		entries, err = store.List(cmd.Context())
	}
	if err != nil {
		return err
	}

	if len(entries) == 0 {
		fmt.Println("Реестр сертификатов пуст")
		return nil
	}
	fmt.Println("Выпущенные сертификаты:")
	for _, e := range entries {
		fmt.Printf("  %s  %s  %s/%s  %s\n",
			e.CertificateID, e.DevicePath, e.Method, e.Technique, e.IssuedAt.Format(time.RFC3339))
	}
	return nil
}

func runVerifyCert(cmd *cobra.Command, args []string) error {
	if err := setup(); err != nil {
		return err
	}
	defer logger.Close()

	certPath, _ := cmd.Flags().GetString("cert")
	certID, _ := cmd.Flags().GetString("id")
	pubPath, _ := cmd.Flags().GetString("pub")
	if pubPath == "" {
		pubPath = filepath.Join(cfg.Keys.Dir, "public.pem")
	}

	var signed *cert.SignedCertificate
	switch {
	case certPath != "":
		data, err := os.ReadFile(certPath)
		if err != nil {
			return fmt.Errorf("не удалось прочитать сертификат: %w", err)
		}
		signed = &cert.SignedCertificate{}
		if err := json.Unmarshal(data, signed); err != nil {
			return fmt.Errorf("ошибка разбора сертификата: %w", err)
		}
	case certID != "":
		store, err := certstore.NewSQLiteStore(cfg.Certificates.StorePath)
		if err != nil {
			return fmt.Errorf("ошибка открытия реестра сертификатов: %w", err)
		}
		defer store.Close()
		signed, err = store.Get(cmd.Context(), certID)
		if err != nil {
			return err
		}
	default:
		return fmt.Errorf("укажите --cert или --id")
	}

	pub, err := cert.LoadPublicKey(pubPath)
	if err != nil {
		return err
	}

	result := cert.Verify(signed, pub)
	for _, reason := range result.Reasons {
		fmt.Println("  " + reason)
	}
	if !result.Valid {
		fmt.Println("INVALID: сертификат не прошёл проверку")
		return errVerificationInvalid
	}
	fmt.Println("VALID: сертификат подлинный")
	return nil
}

func runKeygen(cmd *cobra.Command, args []string) error {
	if err := setup(); err != nil {
		return err
	}
	defer logger.Close()

	dir, _ := cmd.Flags().GetString("dir")
	if dir == "" {
		dir = cfg.Keys.Dir
	}
	bits, _ := cmd.Flags().GetInt("bits")

	key, err := cert.GenerateKeyPair(bits)
	if err != nil {
		return err
	}
	if err := cert.SaveKeyPair(dir, key); err != nil {
		return err
	}

	logger.Log("INFO", "Ключевая пара создана", "dir", dir, "bits", bits)
	fmt.Printf("Ключи сохранены в %s\n", dir)
	return nil
}

func printSummary(report *reporting.Report) {
	fmt.Println("\nРезультаты санитизации:")
	fmt.Println("=======================")
	for _, op := range report.Operations {
		status := "✓"
		switch op.State {
		case string(operation.StateCancelled):
			status = "⚠"
		case string(operation.StateFailed):
			status = "✗"
		}
		fmt.Printf("  %s %s  %s/%s  %.1f%%  %s\n",
			status, op.DevicePath, op.Method, op.Technique, op.ProgressPercent, op.VerificationStatus)
	}
	fmt.Printf("Итого: %d носителей, завершено %d, отменено %d, с ошибкой %d\n",
		report.Summary.TotalDevices, report.Summary.Completed,
		report.Summary.Cancelled, report.Summary.Failed)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		var conflict *operation.ConflictError
		var configuration *nist.ConfigurationError
		var incompleteOp *cert.IncompleteOperationError
		var incompleteCert *cert.IncompleteCertificateError
		switch {
		case errors.Is(err, errVerificationInvalid), errors.Is(err, errRunWarnings):
			os.Exit(EXIT_WARNING)
		case errors.As(err, &conflict),
			errors.As(err, &configuration),
			errors.As(err, &incompleteOp),
			errors.As(err, &incompleteCert):
			os.Exit(EXIT_ERROR)
		default:
			os.Exit(EXIT_ERROR)
		}
	}
	os.Exit(EXIT_SUCCESS)
}
