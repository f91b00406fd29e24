// Command dsynth builds packages from a ports tree in parallel chroots.
package main

import "dsynth/cmd"

func main() {
	cmd.Execute()
}
