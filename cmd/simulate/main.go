package main

import (
	"flag"
	"fmt"
	"os"

	"typingproof/internal/typingproof/simulate"
)

func main() {
	if len(os.Args) < 2 {
		printHelp()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "run":
		runCmd := flag.NewFlagSet("run", flag.ExitOnError)
		configPath := runCmd.String("config", "", "Path to config file")
		runCmd.Parse(os.Args[2:])
		if *configPath == "" {
			fmt.Println("Error: --config is required for 'run'")
			runCmd.Usage()
			os.Exit(1)
		}
		if err := simulate.Run(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "simulate: %v\n", err)
			os.Exit(1)
		}

	case "help", "--help", "-h":
		printHelp()
	default:
		fmt.Printf("Unknown subcommand: %s\n\n", os.Args[1])
		printHelp()
		os.Exit(1)
	}
}

func printHelp() {
	fmt.Println(`Usage: simulate <subcommand> --config <path>`)
	fmt.Println()
	fmt.Println("Subcommands:")
	fmt.Println("  run    --config <path>   Generate a synthetic typing session")
	fmt.Println("  help                     Show this help message")
}
