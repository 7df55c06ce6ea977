// assistantctl drives the listing assistant from a terminal.
package main

func main() {
	Execute()
}
