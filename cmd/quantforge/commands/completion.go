package commands

import (
	"github.com/spf13/cobra"
	"github.com/xupit3r/quantforge/internal/catalog"
	"github.com/xupit3r/quantforge/internal/config"
)

var completionCmd = &cobra.Command{
	Use:   "completion [bash|zsh|fish|powershell]",
	Short: "Generate shell completion script",
	Long: `Generate shell completion script for quantforge.

To load completions:

Bash:
  $ quantforge completion bash > ~/.local/share/bash-completion/completions/quantforge
  $ source ~/.local/share/bash-completion/completions/quantforge

Zsh:
  $ quantforge completion zsh > ~/.zsh/completion/_quantforge
  $ echo 'fpath=(~/.zsh/completion $fpath)' >> ~/.zshrc
  $ echo 'autoload -Uz compinit && compinit' >> ~/.zshrc

Fish:
  $ quantforge completion fish > ~/.config/fish/completions/quantforge.fish

PowerShell:
  PS> quantforge completion powershell | Out-String | Invoke-Expression
  # To persist, add the output to your PowerShell profile
`,
	DisableFlagsInUseLine: true,
	ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
	Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	RunE:                  runCompletion,
}

func init() {
	rootCmd.AddCommand(completionCmd)
}

func runCompletion(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	switch args[0] {
	case "bash":
		return cmd.Root().GenBashCompletion(out)
	case "zsh":
		return cmd.Root().GenZshCompletion(out)
	case "fish":
		return cmd.Root().GenFishCompletion(out, true)
	case "powershell":
		return cmd.Root().GenPowerShellCompletionWithDesc(out)
	}
	return nil
}

// completeFormats offers the configured catalog's labels, or the stock
// catalog's when the configuration cannot be read
func completeFormats(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	cat := catalog.Default()
	if cfg, err := config.Load(cfgFile); err == nil {
		if c, err := catalog.FromConfig(cfg.Catalog); err == nil {
			cat = c
		}
	}

	var labels []string
	for _, t := range cat.All() {
		desc := "standard"
		if t.NeedsCalibration() {
			desc = "needs an importance matrix"
		}
		labels = append(labels, t.Label()+"\t"+desc)
	}
	return labels, cobra.ShellCompDirectiveNoFileComp
}
