// Command arbus drives random traffic over an arbitrated shared bus, records
// every transaction into a SQLite trace, and summarizes recorded traces.
package main

func main() {
	Execute()
}
