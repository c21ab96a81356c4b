package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"github.com/PatchLens/go-spycode/spy"
)

// historyCommand selects what spyreport does with the run history.
type historyCommand struct {
	dir       string
	cacheMB   int
	debug     bool
	deleteKey string
	clearAll  bool
}

func main() {
	log.SetFlags(log.LstdFlags | log.LUTC)

	reportJsonFile := flag.String("json", "spyreport.json", "File to read run details from")
	reportChartsFile := flag.String("charts", "spyreport.png", "File to output run overview chart image")
	var cmd historyCommand
	flag.StringVar(&cmd.dir, "history", "", "List the run history in this directory instead of rendering charts")
	flag.IntVar(&cmd.cacheMB, "cachemb", 64, "History cache memory budget in MB")
	flag.BoolVar(&cmd.debug, "debug", false, "Log history store internals and cache metrics")
	flag.StringVar(&cmd.deleteKey, "delete", "", "Remove the history record with this key, requires -history")
	flag.BoolVar(&cmd.clearAll, "clear", false, "Remove every history record, requires -history")
	flag.Parse()

	if cmd.dir != "" {
		if err := cmd.run(os.Stdout); err != nil {
			log.Fatalf("%sHistory command failed: %v", spy.ErrorLogPrefix, err)
		}
		return
	} else if cmd.deleteKey != "" || cmd.clearAll {
		log.Fatalf("%s-delete and -clear require -history", spy.ErrorLogPrefix)
	}

	data, err := os.ReadFile(*reportJsonFile)
	if err != nil {
		log.Fatalf("%sFailed to read report: %v", spy.ErrorLogPrefix, err)
	}
	var metrics spy.ReportMetrics
	if err := json.Unmarshal(data, &metrics); err != nil {
		log.Fatalf("%sFailed to unmarshal report: %v", spy.ErrorLogPrefix, err)
	}

	if err := spy.WriteReportCharts(*reportChartsFile, metrics); err != nil {
		log.Fatalf("%s%v", spy.ErrorLogPrefix, err)
	}
	log.Println("Report file wrote: " + *reportChartsFile)
}

func (c historyCommand) run(out io.Writer) error {
	if c.deleteKey != "" && c.clearAll {
		return errors.New("-delete and -clear are exclusive")
	} else if _, err := os.Stat(c.dir); err != nil {
		return err
	}
	store, err := spy.NewBadgerStorage(spy.BadgerOptions{Path: c.dir, CacheMB: c.cacheMB, Debug: c.debug})
	if err != nil {
		return err
	}
	history := spy.NewHistory(store)

	err = c.apply(history, out)
	if closeErr := history.Close(); err == nil {
		err = closeErr
	}
	return err
}

func (c historyCommand) apply(history *spy.History, out io.Writer) error {
	switch {
	case c.clearAll:
		if err := history.Clear(); err != nil {
			return err
		}
		log.Println("History cleared: " + c.dir)
		return nil
	case c.deleteKey != "":
		if ok, err := history.Delete(c.deleteKey); err != nil {
			return err
		} else if !ok {
			return fmt.Errorf("no history record %q", c.deleteKey)
		}
		log.Println("History record deleted: " + c.deleteKey)
		return nil
	}

	records, err := history.List()
	if err != nil {
		return err
	}
	for _, rec := range records {
		status := "ok"
		if rec.Error != "" {
			status = "error: " + rec.Error
		}
		if _, err := fmt.Fprintf(out, "%s  %s  %-24s %-16s spliced=%d kinds=[%s] %s\n",
			rec.Time.UTC().Format(time.RFC3339), rec.Key, rec.Name, rec.FunctionName, rec.Spliced,
			strings.Join(rec.Kinds, ","), status); err != nil {
			return err
		}
	}
	return nil
}
