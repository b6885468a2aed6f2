// Command rig runs behavioral training sessions and inspects their data.
package main

func main() {
	Execute()
}
