package cmd

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dhcgn/mailsort/assort"
	"github.com/dhcgn/mailsort/config"
	"github.com/dhcgn/mailsort/keyword"
	"github.com/dhcgn/mailsort/mbox"
	"github.com/dhcgn/mailsort/stats"
)

var headersToTrack = []string{"List-Id", "From", "To"}

type statsOptions struct {
	configPath string
	reportDir  string
	topN       int
	filter     keyword.FilterOptions
}

// NewMboxStatsCommand returns the mbox-stats subcommand. It counts the most
// frequent header values of an mbox and, when a config file is present, how
// often each folder's keywords match.
func NewMboxStatsCommand() *cobra.Command {
	var opts statsOptions
	defaultConfig, _ := config.DefaultPath()

	cmd := &cobra.Command{
		Use:   "mbox-stats [mbox file]",
		Short: "Analyse an mbox file and show header and keyword statistics",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStats(cmd.OutOrStdout(), args[0], opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.configPath, "config", defaultConfig, "Config file whose folder keywords are counted (skipped when missing)")
	flags.StringVarP(&opts.reportDir, "output", "o", ".", "Output directory for CSV reports")
	flags.IntVarP(&opts.topN, "top", "t", 10, "Number of top items to display in statistics")
	flags.StringArrayVar(&opts.filter.IncludeHeader, "include-header", nil, "Regex allow-list applied to message headers (mutually exclusive with exclude flags)")
	flags.StringArrayVar(&opts.filter.IncludeBody, "include-body", nil, "Regex allow-list applied to message bodies (mutually exclusive with exclude flags)")
	flags.StringArrayVar(&opts.filter.ExcludeHeader, "exclude-header", nil, "Regex block-list applied to message headers (mutually exclusive with include flags)")
	flags.StringArrayVar(&opts.filter.ExcludeBody, "exclude-body", nil, "Regex block-list applied to message bodies (mutually exclusive with include flags)")
	return cmd
}

func runStats(w io.Writer, mboxPath string, opts statsOptions) error {
	f, err := keyword.NewFilter(opts.filter)
	if err != nil {
		return fmt.Errorf("create filter: %w", err)
	}
	folders, err := loadFolders(opts.configPath)
	if err != nil {
		return err
	}

	fmt.Fprintln(w, "Analyzing mbox file:", mboxPath)

	counter := make(map[string]map[string]int)
	for _, h := range headersToTrack {
		counter[h] = make(map[string]int)
	}
	hits := newKeywordHits(folders)

	messageCount, skippedCount := 0, 0
	err = mbox.Read(mboxPath, func(m *mbox.Message) error {
		header := formatHeaders(m)
		if !f.Allows([]byte(header), m.Body) {
			skippedCount++
			return nil
		}

		messageCount++
		for _, name := range headersToTrack {
			values, err := m.Header.AddressList(name)
			if err != nil || len(values) == 0 {
				if v, err := m.Header.Text(name); err == nil && v != "" {
					counter[name][v]++
				}
				continue
			}
			for _, addr := range values {
				counter[name][addr.Address]++
			}
		}
		hits.count(string(m.Body))
		return nil
	})
	if err != nil {
		return fmt.Errorf("error reading mbox file: %w", err)
	}

	total := messageCount + skippedCount
	var filterPercent float64
	if total > 0 {
		filterPercent = float64(skippedCount) / float64(total) * 100
	}
	fmt.Fprintf(w, "Processed %d messages (skipped %d by filters, %.2f%%)\n\n", messageCount, skippedCount, filterPercent)

	for _, header := range headersToTrack {
		fmt.Fprintf(w, "Top %d %s:\n", opts.topN, header)
		stats.PrettyPrintTop(w, counter[header], opts.topN)
		fmt.Fprintln(w)
	}
	hits.print(w)

	if err := saveCSVReports(counter, hits, opts.reportDir, 1000); err != nil {
		return fmt.Errorf("error saving CSV reports: %w", err)
	}
	fmt.Fprintf(w, "\nReports saved to directory: %s\n", opts.reportDir)
	return nil
}

func loadFolders(path string) ([]assort.FolderSpec, error) {
	if path == "" {
		return nil, nil
	}
	file, err := config.LoadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return file.FolderSpecs()
}

// keywordHits counts, per folder, the messages its keywords match and which
// pattern matched first.
type keywordHits struct {
	folders  []assort.FolderSpec
	messages map[string]int
	patterns map[string]map[string]int
}

func newKeywordHits(folders []assort.FolderSpec) *keywordHits {
	h := &keywordHits{
		folders:  folders,
		messages: make(map[string]int),
		patterns: make(map[string]map[string]int),
	}
	for _, f := range folders {
		h.patterns[f.Name] = make(map[string]int)
		for _, p := range f.Keywords.Patterns() {
			h.patterns[f.Name][p] = 0
		}
	}
	return h
}

func (h *keywordHits) count(body string) {
	for _, f := range h.folders {
		if pattern, ok := f.Keywords.Match(body); ok {
			h.messages[f.Name]++
			h.patterns[f.Name][pattern]++
		}
	}
}

func (h *keywordHits) print(w io.Writer) {
	if len(h.folders) == 0 {
		return
	}
	fmt.Fprintln(w, "Folder keyword hits:")
	for _, f := range h.folders {
		fmt.Fprintf(w, "%s (priority %d): %d messages\n", f.Name, f.Priority, h.messages[f.Name])
		for _, c := range stats.Top(h.patterns[f.Name], -1) {
			mark := "✓"
			if c.Value == 0 {
				mark = "✗"
			}
			fmt.Fprintf(w, "  %s %s: %d hits\n", mark, c.Key, c.Value)
		}
	}
}

func saveCSVReports(counter map[string]map[string]int, hits *keywordHits, dir string, limit int) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	for _, header := range headersToTrack {
		var records [][]string
		for _, c := range stats.Top(counter[header], limit) {
			records = append(records, []string{c.Key, strconv.Itoa(c.Value)})
		}
		name := fmt.Sprintf("report_%s.csv", normalizeHeaderName(header))
		if err := writeCSV(filepath.Join(dir, name), []string{"Value", "Count"}, records); err != nil {
			return err
		}
	}

	if len(hits.folders) == 0 {
		return nil
	}
	var records [][]string
	for _, f := range hits.folders {
		for _, c := range stats.Top(hits.patterns[f.Name], -1) {
			records = append(records, []string{f.Name, c.Key, strconv.Itoa(c.Value)})
		}
	}
	return writeCSV(filepath.Join(dir, "report_folders.csv"), []string{"Folder", "Keyword", "Count"}, records)
}

func writeCSV(path string, header []string, records [][]string) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write(header); err != nil {
		return err
	}
	if err := writer.WriteAll(records); err != nil {
		return err
	}
	return file.Close()
}

func normalizeHeaderName(header string) string {
	name := strings.ToLower(header)
	name = strings.ReplaceAll(name, "-", "_")
	name = strings.ReplaceAll(name, " ", "_")
	return name
}

func formatHeaders(m *mbox.Message) string {
	var sb strings.Builder
	fields := m.Header.Fields()
	for fields.Next() {
		sb.WriteString(fields.Key())
		sb.WriteString(": ")
		sb.WriteString(fields.Value())
		sb.WriteString("\n")
	}
	return sb.String()
}
