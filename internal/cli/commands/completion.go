package commands

import (
	"github.com/spf13/cobra"
)

// NewCompletionCommand creates the completion command for shell completions
func NewCompletionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "completion [bash|zsh|fish|powershell]",
		Short: "Generate shell completion script",
		Long: `Generate a shell completion script for weaver.

Bash:
  $ source <(weaver completion bash)

Zsh:
  $ weaver completion zsh > "${fpath[1]}/_weaver"

Fish:
  $ weaver completion fish | source

PowerShell:
  PS> weaver completion powershell | Out-String | Invoke-Expression
`,
		DisableFlagsInUseLine: true,
		ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
		Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			root, out := cmd.Root(), cmd.OutOrStdout()
			switch args[0] {
			case "bash":
				return root.GenBashCompletionV2(out, true)
			case "zsh":
				return root.GenZshCompletion(out)
			case "fish":
				return root.GenFishCompletion(out, true)
			default:
				return root.GenPowerShellCompletionWithDesc(out)
			}
		},
	}
}

// archiveFlag marks a flag as taking an archive path for completion.
func archiveFlag(cmd *cobra.Command, name string) {
	cmd.MarkFlagFilename(name, "jar", "war", "zip")
}
