// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"debug/elf"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/peterbourgon/ff/v3/ffcli"
	log "github.com/sirupsen/logrus"

	"go.opentelemetry.io/symtrace/imagemap"
	"go.opentelemetry.io/symtrace/libpf"
	"go.opentelemetry.io/symtrace/libpf/pfelf"
	"go.opentelemetry.io/symtrace/stacktrace"
	"go.opentelemetry.io/symtrace/symbolizer"
)

// parseAddresses parses hexadecimal addresses with or without 0x prefix.
func parseAddresses(args []string) ([]libpf.Address, error) {
	addrs := make([]libpf.Address, 0, len(args))
	for _, arg := range args {
		if len(arg) > 2 && (arg[:2] == "0x" || arg[:2] == "0X") {
			arg = arg[2:]
		}
		v, err := strconv.ParseUint(arg, 16, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid address %q: %w", arg, err)
		}
		addrs = append(addrs, libpf.Address(v))
	}
	return addrs, nil
}

func targetPID(pid uint) libpf.PID {
	if pid == 0 {
		return libpf.SelfPID()
	}
	return libpf.PID(pid)
}

func (a *app) writeJSON(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

type resolveCmd struct {
	*app
	pid     uint
	raw     bool
	jsonOut bool
}

func newResolveCmd(a *app) *ffcli.Command {
	cmd := &resolveCmd{app: a}

	set := flag.NewFlagSet("resolve", flag.ContinueOnError)
	set.BoolVar(&cmd.jsonOut, "json", false, jsonHelp)
	set.UintVar(&cmd.pid, "pid", 0, pidHelp)
	set.BoolVar(&cmd.raw, "raw", false, rawHelp)

	return &ffcli.Command{
		Name:       "resolve",
		ShortUsage: "symtrace resolve [-pid N] [-raw] [-json] <addr>...",
		ShortHelp:  "Resolve addresses of a process to function+offset in module",
		FlagSet:    set,
		Exec:       cmd.exec,
	}
}

func (cmd *resolveCmd) exec(_ context.Context, args []string) error {
	if len(args) == 0 {
		return errors.New("please specify at least one address")
	}
	addrs, err := parseAddresses(args)
	if err != nil {
		return err
	}
	pid := targetPID(cmd.pid)

	if cmd.raw {
		frames := cmd.sym.ResolveRawOnPID(addrs, pid)
		if cmd.jsonOut {
			return cmd.writeJSON(frames)
		}
		for _, frame := range frames {
			fmt.Fprintln(cmd.out, frame.String())
		}
		return nil
	}

	frames := cmd.sym.ResolveOnPID(addrs, pid)
	if cmd.jsonOut {
		return cmd.writeJSON(frames)
	}
	for _, frame := range frames {
		fmt.Fprintln(cmd.out, frame.String())
	}
	return nil
}

type modulesCmd struct {
	*app
	pid         uint
	jsonOut     bool
	loadSymbols bool
}

// moduleInfo is the reported form of an image.
type moduleInfo struct {
	Path        string        `json:"path"`
	Base        libpf.Address `json:"base"`
	Size        uint64        `json:"size"`
	Type        string        `json:"type"`
	FileID      string        `json:"file_id,omitempty"`
	BuildID     string        `json:"build_id,omitempty"`
	NumSymbols  int           `json:"num_symbols,omitempty"`
	Relocatable bool          `json:"relocatable"`
	Deleted     bool          `json:"deleted,omitempty"`
}

func newModulesCmd(a *app) *ffcli.Command {
	cmd := &modulesCmd{app: a}

	set := flag.NewFlagSet("modules", flag.ContinueOnError)
	set.BoolVar(&cmd.jsonOut, "json", false, jsonHelp)
	set.UintVar(&cmd.pid, "pid", 0, pidHelp)
	set.BoolVar(&cmd.loadSymbols, "symbols", false, loadSymbolsHelp)

	return &ffcli.Command{
		Name:       "modules",
		ShortUsage: "symtrace modules [-pid N] [-symbols] [-json]",
		ShortHelp:  "List the ELF images loaded into a process",
		FlagSet:    set,
		Exec:       cmd.exec,
	}
}

func describeImage(img *imagemap.Image, loadSymbols bool) moduleInfo {
	info := moduleInfo{
		Path:    img.Path,
		Base:    img.Base,
		Size:    img.Size,
		Type:    elf.ET_NONE.String(),
		Deleted: img.Deleted,
	}
	if img.Deleted {
		// Whatever lives at the path now is not what was mapped.
		return info
	}
	info.Relocatable = img.Relocatable()

	if typ, err := pfelf.ReadType(img.Path); err == nil {
		info.Type = typ.String()
	} else {
		log.Debugf("Failed to read ELF type of %s: %v", img.Path, err)
	}

	if fileID, err := libpf.FileIDFromExecutableFile(img.Path); err == nil {
		info.FileID = fileID.UUIDString()
	} else {
		log.Debugf("Failed to compute file ID of %s: %v", img.Path, err)
	}

	if ef, err := pfelf.Open(img.Path); err == nil {
		if buildID, err := ef.GetBuildID(); err == nil {
			info.BuildID = buildID
		}
		_ = ef.Close()
	}

	if loadSymbols {
		info.NumSymbols = img.Symbols().Len()
	}
	return info
}

func (cmd *modulesCmd) exec(_ context.Context, args []string) error {
	if len(args) != 0 {
		return fmt.Errorf("unexpected arguments: %v", args)
	}

	images := cmd.sym.ImagesOf(targetPID(cmd.pid))
	infos := make([]moduleInfo, 0, len(images))
	for _, img := range images {
		infos = append(infos, describeImage(img, cmd.loadSymbols))
	}

	if cmd.jsonOut {
		return cmd.writeJSON(infos)
	}

	w := tabwriter.NewWriter(cmd.out, 0, 8, 2, ' ', 0)
	fmt.Fprintln(w, "BASE\tSIZE\tTYPE\tFILE ID\tBUILD ID\tSYMBOLS\tPATH")
	for _, info := range infos {
		symbols := "-"
		if cmd.loadSymbols {
			symbols = strconv.Itoa(info.NumSymbols)
		}
		path := info.Path
		if info.Deleted {
			path += " (deleted)"
		}
		fmt.Fprintf(w, "%v\t0x%x\t%s\t%s\t%s\t%s\t%s\n", info.Base, info.Size, info.Type,
			info.FileID, info.BuildID, symbols, path)
	}
	return w.Flush()
}

type symbolsCmd struct {
	*app
	bias string
}

func newSymbolsCmd(a *app) *ffcli.Command {
	cmd := &symbolsCmd{app: a}

	set := flag.NewFlagSet("symbols", flag.ContinueOnError)
	set.StringVar(&cmd.bias, "bias", "0", biasHelp)

	return &ffcli.Command{
		Name:       "symbols",
		ShortUsage: "symtrace symbols [-bias ADDR] <elf-file>",
		ShortHelp:  "List the function symbols of an ELF file in address order",
		FlagSet:    set,
		Exec:       cmd.exec,
	}
}

func (cmd *symbolsCmd) exec(_ context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("please specify exactly one ELF file")
	}
	bias, err := parseAddresses([]string{cmd.bias})
	if err != nil {
		return err
	}

	ef, err := pfelf.Open(args[0])
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", args[0], err)
	}
	defer ef.Close()

	symMap, err := ef.FunctionSymbols(libpf.SymbolValue(bias[0]))
	if err != nil {
		return fmt.Errorf("failed to read symbols of %s: %w", args[0], err)
	}

	mode := symbolizer.DemangleMode(cmd.args.demangle)
	symMap.VisitAll(func(sym libpf.Symbol) {
		fmt.Fprintf(cmd.out, "%016x %s\n", uint64(sym.Address), mode.Demangle(string(sym.Name)))
	})
	return nil
}

type traceCmd struct {
	*app
	maxFrames int
	raw       bool
}

func newTraceCmd(a *app) *ffcli.Command {
	cmd := &traceCmd{app: a}

	set := flag.NewFlagSet("trace", flag.ContinueOnError)
	set.IntVar(&cmd.maxFrames, "max", defaultArgMaxFrames, maxFramesHelp)
	set.BoolVar(&cmd.raw, "raw", false, rawHelp)

	return &ffcli.Command{
		Name:       "trace",
		ShortUsage: "symtrace trace [-max N] [-raw]",
		ShortHelp:  "Capture and print the stack of this command",
		FlagSet:    set,
		Exec:       cmd.exec,
	}
}

func (cmd *traceCmd) exec(context.Context, []string) error {
	if cmd.maxFrames < 0 || cmd.maxFrames > stacktrace.MaxFrames {
		return fmt.Errorf("max must be between 0 and %d", stacktrace.MaxFrames)
	}
	snapshot := stacktrace.Capture(cmd.maxFrames)
	if !cmd.raw {
		return snapshot.Print(cmd.out, cmd.sym)
	}
	for _, frame := range snapshot.RawFrames(cmd.sym) {
		fmt.Fprintln(cmd.out, frame.String())
	}
	return nil
}
