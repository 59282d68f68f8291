// Command pcscanctl drives synthetic mutator workloads against a quarantining
// partition and reports what the scanner did.
package main

func main() {
	execute()
}
