// main package for the interpretation client
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"github.com/book-expert/events"
	"github.com/book-expert/interpretation-service/internal/config"
	"github.com/book-expert/interpretation-service/internal/core"
	"github.com/book-expert/interpretation-service/internal/objectstore"
	"github.com/book-expert/interpretation-service/internal/persona"
	"github.com/book-expert/logger"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

// Flag descriptions.
const (
	flagTextDesc      = "Text to interpret"
	flagPersonasDesc  = "Comma separated persona ids"
	flagOperationDesc = "Operation: summary, rewrite, ending or analysis"
	flagConfigDesc    = "Path to project.toml (defaults to the configurator lookup)"
	flagExportDesc    = "Export format: txt or md"
	flagOutputDesc    = "Write the exported document to this file"
	flagTimeoutDesc   = "Time to wait for the reply (defaults to the configured retry budget)"
	flagListDesc      = "List the built-in personas and exit"
	flagNoCacheDesc   = "Bypass the result cache"
)

// Flag names.
const (
	flagText      = "text"
	flagPersonas  = "personas"
	flagOperation = "operation"
	flagConfig    = "config"
	flagExport    = "export"
	flagOutput    = "output"
	flagTimeout   = "timeout"
	flagList      = "list"
	flagNoCache   = "no-cache"
)

// Error messages.
const (
	errTextRequired       = "--text must be provided"
	errPersonasRequired   = "--personas must name at least one persona"
	errOutputNeedsExport  = "--output requires --export"
	errFmtUnknownExport   = "unknown export format %q"
	errFmtRequestFailed   = "request failed: %w"
	errFmtRejected        = "request rejected (%s): %s"
	errFmtLoadConfig      = "failed to load configuration: %w"
	errFmtInitLogger      = "failed to initialize logger: %w"
	errFmtConnect         = "failed to connect to NATS at %s: %w"
	errFmtDownloadExport  = "failed to download export %s: %w"
	errFmtWriteExportFile = "failed to write export to %s: %w"
)

const (
	replyMargin      = 10 * time.Second
	defaultOperation = string(core.OperationSummary)
	logFileName      = "interpretation-client.log"
	ruleWidth        = 60
)

// appFlags holds the parsed command-line flag values.
type appFlags struct {
	text      string
	personas  string
	operation string
	config    string
	export    string
	output    string
	timeout   time.Duration
	list      bool
	noCache   bool
}

func main() {
	err := run(os.Args[1:], os.Stdout)
	if err != nil {
		// A logger might not be initialized yet, so use the standard log package.
		log.Fatalf("Error: %v", err)
	}
}

// run is the main application entry point, returning an error on failure.
func run(args []string, out io.Writer) error {
	flags, err := parseFlags(args)
	if err != nil {
		return err
	}

	if flags.list {
		return listPersonas(out)
	}

	requestEvent, err := buildRequest(flags)
	if err != nil {
		return err
	}

	cfg, err := loadConfig(flags.config)
	if err != nil {
		return err
	}

	clientLog, err := logger.New(cfg.Paths.BaseLogsDir, logFileName)
	if err != nil {
		return fmt.Errorf(errFmtInitLogger, err)
	}
	defer clientLog.Close()

	natsConnection, err := nats.Connect(cfg.NATS.URL, nats.Name("interpretation-client"))
	if err != nil {
		return fmt.Errorf(errFmtConnect, cfg.NATS.URL, err)
	}
	defer natsConnection.Close()

	ctx, cancel := context.WithTimeout(context.Background(), replyTimeout(flags, cfg))
	defer cancel()

	clientLog.Info("Sending request %s to %s", requestEvent.Header.WorkflowID, cfg.NATS.RequestSubject)

	reply, err := sendRequest(ctx, natsConnection, cfg.NATS.RequestSubject, requestEvent)
	if err != nil {
		clientLog.Error("Request %s failed: %v", requestEvent.Header.WorkflowID, err)

		return err
	}

	err = printReply(out, reply)
	if err != nil {
		return err
	}

	if flags.output != "" && reply.ExportKey != "" {
		return saveExport(ctx, natsConnection, cfg.NATS.ExportBucket, reply.ExportKey, flags.output)
	}

	return nil
}

// parseFlags defines and parses command-line flags, returning them in a struct.
func parseFlags(args []string) (appFlags, error) {
	var flags appFlags

	flagSet := flag.NewFlagSet("go-client", flag.ContinueOnError)
	flagSet.StringVar(&flags.text, flagText, "", flagTextDesc)
	flagSet.StringVar(&flags.personas, flagPersonas, "", flagPersonasDesc)
	flagSet.StringVar(&flags.operation, flagOperation, defaultOperation, flagOperationDesc)
	flagSet.StringVar(&flags.config, flagConfig, "", flagConfigDesc)
	flagSet.StringVar(&flags.export, flagExport, "", flagExportDesc)
	flagSet.StringVar(&flags.output, flagOutput, "", flagOutputDesc)
	flagSet.DurationVar(&flags.timeout, flagTimeout, 0, flagTimeoutDesc)
	flagSet.BoolVar(&flags.list, flagList, false, flagListDesc)
	flagSet.BoolVar(&flags.noCache, flagNoCache, false, flagNoCacheDesc)

	err := flagSet.Parse(args)
	if err != nil {
		return appFlags{}, fmt.Errorf("failed to parse flags: %w", err)
	}

	return flags, nil
}

// replyTimeout returns the explicit --timeout, or the service's worst-case
// generation time plus a margin for transport.
func replyTimeout(flags appFlags, cfg *config.Config) time.Duration {
	if flags.timeout > 0 {
		return flags.timeout
	}

	return cfg.RequestBudget() + replyMargin
}

// splitPersonas turns a comma separated list into trimmed, non-empty ids.
func splitPersonas(value string) []string {
	var ids []string

	for _, part := range strings.Split(value, ",") {
		id := strings.TrimSpace(part)
		if id != "" {
			ids = append(ids, id)
		}
	}

	return ids
}

// buildRequest validates the flags and turns them into a request event.
func buildRequest(flags appFlags) (*core.InterpretationRequestedEvent, error) {
	if strings.TrimSpace(flags.text) == "" {
		return nil, errors.New(errTextRequired)
	}

	personaIDs := splitPersonas(flags.personas)
	if len(personaIDs) == 0 {
		return nil, errors.New(errPersonasRequired)
	}

	op, err := core.ParseOperation(flags.operation)
	if err != nil {
		return nil, err
	}

	format := core.ExportFormat(flags.export)
	switch format {
	case core.ExportNone, core.ExportText, core.ExportMarkdown:
	default:
		return nil, fmt.Errorf(errFmtUnknownExport, flags.export)
	}

	if flags.output != "" && format == core.ExportNone {
		return nil, errors.New(errOutputNeedsExport)
	}

	options := core.Options{}
	if flags.noCache {
		options = options.WithoutCache()
	}

	return &core.InterpretationRequestedEvent{
		Header: events.EventHeader{
			Timestamp:  time.Now().UTC(),
			WorkflowID: uuid.NewString(),
			EventID:    uuid.NewString(),
			UserID:     "",
			TenantID:   "",
		},
		Text:         flags.text,
		PersonaIDs:   personaIDs,
		Operation:    op,
		Options:      options,
		ExportFormat: format,
	}, nil
}

func loadConfig(path string) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)

	if path != "" {
		cfg, err = config.LoadFile(path)
	} else {
		bootstrapLog, logErr := logger.New(os.TempDir(), "interpretation-client-bootstrap.log")
		if logErr != nil {
			return nil, fmt.Errorf(errFmtInitLogger, logErr)
		}
		defer bootstrapLog.Close()

		cfg, err = config.Load(bootstrapLog)
	}

	if err != nil {
		return nil, fmt.Errorf(errFmtLoadConfig, err)
	}

	return cfg, nil
}

// sendRequest publishes the request and decodes the reply.
func sendRequest(
	ctx context.Context,
	natsConnection *nats.Conn,
	subject string,
	requestEvent *core.InterpretationRequestedEvent,
) (*core.InterpretationsGeneratedEvent, error) {
	data, err := json.Marshal(requestEvent)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	msg, err := natsConnection.RequestWithContext(ctx, subject, data)
	if err != nil {
		return nil, fmt.Errorf(errFmtRequestFailed, err)
	}

	var reply core.InterpretationsGeneratedEvent

	err = json.Unmarshal(msg.Data, &reply)
	if err != nil {
		return nil, fmt.Errorf("failed to decode reply: %w", err)
	}

	if reply.Error != nil {
		return &reply, fmt.Errorf(errFmtRejected, reply.Error.Kind, reply.Error.ErrorMessage)
	}

	return &reply, nil
}

// printReply writes every outcome in request order.
func printReply(out io.Writer, reply *core.InterpretationsGeneratedEvent) error {
	rule := strings.Repeat("-", ruleWidth)

	var builder strings.Builder

	for _, outcome := range reply.Outcomes {
		builder.WriteString(rule + "\n")

		if outcome.Failure != nil {
			fmt.Fprintf(&builder, "%s: FAILED (%s)\n%s\n", outcome.Failure.PersonaID, outcome.Failure.Kind,
				outcome.Failure.ErrorMessage)

			continue
		}

		interpretation := outcome.Interpretation
		fmt.Fprintf(&builder, "%s [%s, %d words, %s]\n\n%s\n", interpretation.PersonaName, interpretation.Operation,
			interpretation.WordCount, interpretation.ModelID, interpretation.Content)
	}

	builder.WriteString(rule + "\n")

	if reply.ExportKey != "" {
		fmt.Fprintf(&builder, "Exported to %s\n", reply.ExportKey)
	}

	if reply.ExportError != "" {
		fmt.Fprintf(&builder, "Export failed: %s\n", reply.ExportError)
	}

	_, err := io.WriteString(out, builder.String())
	if err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}

	return nil
}

// listPersonas prints the built-in catalogue grouped by category.
func listPersonas(out io.Writer) error {
	registry, err := persona.LoadDefault()
	if err != nil {
		return fmt.Errorf("failed to load personas: %w", err)
	}

	var builder strings.Builder

	for _, category := range registry.Categories() {
		fmt.Fprintf(&builder, "%s:\n", category)

		for _, p := range registry.ListByCategory(category) {
			fmt.Fprintf(&builder, "  %-10s %s - %s\n", p.ID, p.Name, p.Description)
		}
	}

	_, err = io.WriteString(out, builder.String())
	if err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}

	return nil
}

// saveExport downloads an exported document from the object store.
func saveExport(ctx context.Context, natsConnection *nats.Conn, bucket, key, path string) error {
	jetstreamContext, err := natsConnection.JetStream()
	if err != nil {
		return fmt.Errorf(errFmtDownloadExport, key, err)
	}

	store, err := objectstore.New(jetstreamContext, bucket, objectstore.Options{TTL: 0, MaxBytes: 0})
	if err != nil {
		return fmt.Errorf(errFmtDownloadExport, key, err)
	}

	data, err := store.Download(ctx, key)
	if err != nil {
		return fmt.Errorf(errFmtDownloadExport, key, err)
	}

	err = os.WriteFile(path, data, 0o600)
	if err != nil {
		return fmt.Errorf(errFmtWriteExportFile, path, err)
	}

	return nil
}
