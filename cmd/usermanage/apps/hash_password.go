package apps

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/GehirnInc/crypt/sha512_crypt"
	"github.com/spf13/cobra"
)

var HashPasswordCmd = &cobra.Command{
	Use:   "hash-password [password]",
	Short: "Print the sha512 crypt hash of a password, read from stdin when omitted",
	Long:  AppDescription,
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		hash, err := HashPassword(args)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s\n", err.Error())
			os.Exit(1)
		}
		fmt.Println(hash)
	},
}

func HashPassword(args []string) (string, error) {
	var pw string
	if len(args) == 1 {
		pw = args[0]
	} else {
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && line == "" {
			return "", fmt.Errorf("read password: %w", err)
		}
		pw = strings.TrimRight(line, "\r\n")
	}
	if pw == "" {
		return "", fmt.Errorf("empty password")
	}

	return sha512_crypt.New().Generate([]byte(pw), nil)
}
