// The main package for the contactform executable.
package main

import "github.com/JakeFAU/contact-form/cmd"

func main() {
	cmd.Execute()
}
