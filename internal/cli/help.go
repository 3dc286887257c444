package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/telecomverify/telecom/internal/cli/ui"
)

// Command group IDs.
const (
	groupServer = "server"
	groupClient = "client"
	groupConfig = "config"
)

var commandGroups = map[string]string{
	"start":   groupServer,
	"verify":  groupClient,
	"rank":    groupClient,
	"stats":   groupClient,
	"config":  groupConfig,
	"version": groupConfig,
}

// initHelp wires up styled help/usage rendering and command groups.
func initHelp() {
	rootCmd.AddGroup(
		&cobra.Group{ID: groupServer, Title: "SERVER"},
		&cobra.Group{ID: groupClient, Title: "CLIENT"},
		&cobra.Group{ID: groupConfig, Title: "CONFIGURATION"},
	)
	for _, cmd := range rootCmd.Commands() {
		if gid, ok := commandGroups[cmd.Name()]; ok {
			cmd.GroupID = gid
		}
	}

	rootCmd.SetHelpFunc(styledHelp)
	rootCmd.SetUsageFunc(func(cmd *cobra.Command) error {
		styledHelp(cmd, nil)
		return nil
	})
}

// styledHelp renders colorful help output.
func styledHelp(cmd *cobra.Command, _ []string) {
	c := colorEnabled()
	w := cmd.ErrOrStderr()

	fmt.Fprintln(w)
	switch {
	case cmd == rootCmd:
		fmt.Fprintf(w, "  %s %s\n\n", ui.BrandEmoji, boldCyan("Telecom", c))
		printLong(w, cmd.Long, c)
	case cmd.Long != "":
		printLong(w, cmd.Long, c)
	default:
		fmt.Fprintf(w, "  %s\n", cmd.Short)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, heading("USAGE", c))
	useLine := cmd.UseLine()
	if cmd.HasAvailableSubCommands() {
		useLine = cmd.CommandPath() + " [command]"
	}
	fmt.Fprintf(w, "  %s\n\n", useLine)

	if cmd.Example != "" {
		fmt.Fprintln(w, heading("EXAMPLES", c))
		printLong(w, cmd.Example, c)
		fmt.Fprintln(w)
	}

	printCommands(w, cmd, c)
	printFlags(w, cmd, c)

	if cmd.HasAvailableSubCommands() {
		fmt.Fprintln(w, dim(fmt.Sprintf("Use \"%s [command] --help\" for more information about a command.", cmd.CommandPath()), c))
		fmt.Fprintln(w)
	}
}

// printLong renders descriptive text; indented lines are shown as commands.
func printLong(w io.Writer, text string, c bool) {
	for _, line := range strings.Split(text, "\n") {
		switch {
		case strings.TrimSpace(line) == "":
			fmt.Fprintln(w)
		case strings.HasPrefix(line, "  "):
			fmt.Fprintf(w, "    %s\n", green(strings.TrimSpace(line), c))
		default:
			fmt.Fprintf(w, "  %s\n", line)
		}
	}
}

// printCommands renders subcommands, grouped when the command has groups.
func printCommands(w io.Writer, cmd *cobra.Command, c bool) {
	if !cmd.HasAvailableSubCommands() {
		return
	}

	byGroup := make(map[string][]*cobra.Command)
	for _, sub := range cmd.Commands() {
		if sub.IsAvailableCommand() {
			byGroup[sub.GroupID] = append(byGroup[sub.GroupID], sub)
		}
	}

	for _, g := range cmd.Groups() {
		if cmds := byGroup[g.ID]; len(cmds) > 0 {
			fmt.Fprintln(w, heading(g.Title, c))
			printCommandList(w, cmds, c)
			fmt.Fprintln(w)
		}
	}
	if cmds := byGroup[""]; len(cmds) > 0 {
		title := "COMMANDS"
		if len(cmd.Groups()) > 0 {
			title = "OTHER"
		}
		fmt.Fprintln(w, heading(title, c))
		printCommandList(w, cmds, c)
		fmt.Fprintln(w)
	}
}

// printCommandList renders a list of commands with aligned descriptions.
func printCommandList(w io.Writer, cmds []*cobra.Command, c bool) {
	width := 0
	for _, cmd := range cmds {
		width = max(width, len(cmd.Name()))
	}
	for _, cmd := range cmds {
		name := bold(fmt.Sprintf("%-*s", width+4, cmd.Name()), c)
		fmt.Fprintf(w, "  %s%s\n", name, dim(cmd.Short, c))
	}
}

// printFlags renders local flags, then inherited ones. The root command
// shows all of its flags together.
func printFlags(w io.Writer, cmd *cobra.Command, c bool) {
	if cmd == rootCmd {
		printFlagSection(w, "FLAGS", cmd.Flags(), c)
		return
	}
	printFlagSection(w, "FLAGS", cmd.LocalNonPersistentFlags(), c)
	printFlagSection(w, "GLOBAL FLAGS", cmd.InheritedFlags(), c)
}

func printFlagSection(w io.Writer, title string, fs *pflag.FlagSet, c bool) {
	if !hasVisibleFlags(fs) {
		return
	}
	fmt.Fprintln(w, heading(title, c))
	for _, line := range strings.Split(strings.TrimRight(fs.FlagUsages(), "\n"), "\n") {
		if strings.TrimSpace(line) != "" {
			fmt.Fprintln(w, colorizeFlag(line, c))
		}
	}
	fmt.Fprintln(w)
}

// colorizeFlag colors the flag part of a pflag usage line cyan and dims the
// description. pflag separates the two with a run of at least three spaces.
func colorizeFlag(line string, c bool) string {
	if !c {
		return line
	}
	trimmed := strings.TrimLeft(line, " ")
	prefix := line[:len(line)-len(trimmed)]

	if i := strings.Index(trimmed, "   "); i > 0 {
		if desc := strings.TrimLeft(trimmed[i:], " "); desc != "" {
			return prefix + cyan(trimmed[:i], c) + "   " + dim(desc, c)
		}
	}
	return prefix + cyan(trimmed, c)
}

// hasVisibleFlags returns true if the flag set has any non-hidden flags.
func hasVisibleFlags(fs *pflag.FlagSet) bool {
	visible := false
	fs.VisitAll(func(f *pflag.Flag) {
		if !f.Hidden {
			visible = true
		}
	})
	return visible
}

func heading(title string, c bool) string {
	return boldCyan(title, c)
}
