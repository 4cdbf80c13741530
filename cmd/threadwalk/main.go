// threadwalk walks a Marginalia discussion tree from the command line.
package main

func main() {
	Execute()
}
